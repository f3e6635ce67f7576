package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"archivecrawl/pkg/faults"
)

func TestParseSearchResults(t *testing.T) {
	t.Run("MultipleCases", func(t *testing.T) {
		html := `<html><body>
			<a countlinkstblfolderlink href="#">0104-001</a>
			<a countlinkstblfolderlink href="#">0104-002</a>
		</body></html>`

		cases, empty, err := parseSearchResults(html)
		require.NoError(t, err)
		assert.False(t, empty)
		assert.Equal(t, []string{"0104-001", "0104-002"}, cases)
	})

	t.Run("SingleCaseBreadcrumb", func(t *testing.T) {
		html := `<html><body>
			<ul><li class="bread_last">תיק מספר 123456</li></ul>
		</body></html>`

		cases, empty, err := parseSearchResults(html)
		require.NoError(t, err)
		assert.False(t, empty)
		assert.Equal(t, []string{"123456"}, cases)
	})

	t.Run("ConfirmedNoResults", func(t *testing.T) {
		html := `<html><body>
			<div><div><p><strong>לא נמצאו תיקי בניין עבור החיפוש</strong></p></div></div>
		</body></html>`

		cases, empty, err := parseSearchResults(html)
		require.NoError(t, err)
		assert.True(t, empty)
		assert.Empty(t, cases)
	})

	t.Run("EmptyWithoutBanner", func(t *testing.T) {
		cases, empty, err := parseSearchResults(`<html><body></body></html>`)
		require.NoError(t, err)
		assert.False(t, empty)
		assert.Empty(t, cases)
	})
}

func TestParseCasePage(t *testing.T) {
	html := `<html><body>
		<h3><span>נמצאו 12 מסמכים</span></h3>
		<div class="blocks"><ul><li>6638-224</li><li>6638-225</li></ul></div>
		<div class="addresses"><ul><li>הרצל 1</li><li>הרצל 3</li></ul></div>
		<table>
			<tr class="row draggable">
				<td>01/02/2020</td><td>היתר</td><td></td><td>77</td><td>88</td>
				<td>2.5MB</td><td></td><td documentid="permit_88.pdf"></td>
			</tr>
			<tr class="row draggable">
				<td>05/06/2021</td><td>תשריט</td><td></td><td>79</td><td></td>
				<td>512KB</td><td></td><td documentid="plan_79.pdf"></td>
			</tr>
			<tr class="row"><td>not draggable, ignored</td></tr>
		</table>
		<ul><li aria-label="לעמוד הבא"><a href="#">2</a></li></ul>
	</body></html>`

	pg, err := parseCasePage(html, 1)
	require.NoError(t, err)

	assert.Equal(t, 1, pg.Number)
	assert.Equal(t, 12, pg.Declared)
	assert.Equal(t, "6638-224, 6638-225", pg.MultiParcel)
	assert.Equal(t, "הרצל 1, הרצל 3", pg.Address)
	assert.True(t, pg.HasNext)

	require.Len(t, pg.Rows, 2)
	first := pg.Rows[0]
	assert.Equal(t, 0, first.Number)
	assert.Equal(t, 1, first.Page)
	assert.Equal(t, "01/02/2020", first.Date)
	assert.Equal(t, "היתר", first.Type)
	assert.Equal(t, "88", first.Permit)
	assert.Equal(t, "2.5MB", first.Size)
	assert.Equal(t, "permit_88.pdf", first.Document)
	assert.Equal(t, "plan_79.pdf", pg.Rows[1].Document)
}

func TestParseCasePageLastPage(t *testing.T) {
	html := `<html><body>
		<h3><span>נמצאו 1 מסמכים</span></h3>
		<table>
			<tr class="row draggable">
				<td>01/02/2020</td><td>היתר</td><td></td><td></td><td></td>
				<td>1MB</td><td></td><td documentid="only.pdf"></td>
			</tr>
		</table>
	</body></html>`

	pg, err := parseCasePage(html, 2)
	require.NoError(t, err)
	assert.False(t, pg.HasNext)
	assert.Equal(t, 2, pg.Number)
	assert.Equal(t, 2, pg.Rows[0].Page)
}

func TestParseCasePageBrokenRender(t *testing.T) {
	_, err := parseCasePage(`<html><body><p>session expired</p></body></html>`, 1)
	require.Error(t, err)
	assert.Equal(t, faults.TypeNavigation, faults.TypeOf(err))
}
