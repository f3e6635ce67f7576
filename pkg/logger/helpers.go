package logger

// ForGroup returns a logger scoped to one group's work.
func ForGroup(group string) Logger {
	return GetLogger().WithField("group", group)
}

// LogDownload logs the outcome of one document materialization.
func LogDownload(group, caseID, document string, success bool, err error) {
	fields := map[string]interface{}{
		"group":    group,
		"case_id":  caseID,
		"document": document,
		"success":  success,
	}

	l := GetLogger().WithFields(fields)

	if err != nil {
		l.WithError(err).Error("Download failed")
	} else if success {
		l.Info("Download completed")
	} else {
		l.Warn("Download skipped")
	}
}
