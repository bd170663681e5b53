package chunk

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/iobench/format"
	"github.com/weiihann/iobench/table"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

// stationsCSV contains quoted fields with embedded delimiters and
// newlines so that naive byte splitting would cut records apart.
func stationsCSV(rows int) string {
	var b strings.Builder

	b.WriteString("id,value,station\n")
	for i := 1; i <= rows; i++ {
		station := fmt.Sprintf("station %d", i%7)
		if i%5 == 0 {
			station = fmt.Sprintf("\"Mauna Loa, \"\"HI\"\"\nsite %d\"", i%3)
		}
		fmt.Fprintf(&b, "%d,%.2f,%s\n", i, 300+float64(i)/8, station)
	}

	return b.String()
}

func TestOpenInvalidChunkSize(t *testing.T) {
	for _, size := range []int64{0, -1, -4096} {
		_, err := Open("does-not-matter.csv", size, format.NewDelimited(format.Options{}))

		var ice *InvalidChunkSizeError
		require.ErrorAs(t, err, &ice, "size %d", size)
		assert.Equal(t, size, ice.Size)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing.csv"), 10, format.NewDelimited(format.Options{}))

	var ue *format.UnreadableSourceError
	assert.ErrorAs(t, err, &ue)
}

func TestChunkSizeInvariance(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, stationsCSV(250))

	for _, mode := range []format.InferenceMode{format.Strict, format.Sampling, format.Fast} {
		parser := format.NewDelimited(format.Options{Inference: mode})

		whole, err := parser.Read(ctx, path)
		require.NoError(t, err)
		require.Equal(t, 250, whole.NumRows())

		for _, size := range []int64{1, 2, 7, 64, 333, 4096, 1 << 20} {
			got, err := Collect(ctx, path, size, parser)
			require.NoError(t, err, "mode %s size %d", mode, size)

			assert.True(t, table.Equal(whole, got), "mode %s size %d", mode, size)
		}
	}
}

// housingCSV has a built column that is numeric except at row 40 and a
// price column that turns fractional at row 45.
func housingCSV() string {
	var b strings.Builder

	b.WriteString("id,built,price\n")
	for i := 1; i <= 50; i++ {
		built := fmt.Sprint(1900 + i)
		if i == 40 {
			built = "pre-1900"
		}

		price := fmt.Sprint(100000 + i*1000)
		if i == 45 {
			price = "12.5"
		}

		fmt.Fprintf(&b, "%d,%s,%s\n", i, built, price)
	}

	return b.String()
}

func TestChunkSizeInvarianceLateTypeChange(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, housingCSV())

	for _, mode := range []format.InferenceMode{format.Strict, format.Sampling, format.Fast} {
		for _, sample := range []int{0, 10} {
			parser := format.NewDelimited(format.Options{Inference: mode, SampleRows: sample})

			whole, err := parser.Read(ctx, path)
			require.NoError(t, err)

			for _, size := range []int64{1, 16, 64, 333, 1 << 20} {
				got, err := Collect(ctx, path, size, parser)
				require.NoError(t, err, "mode %s sample %d size %d", mode, sample, size)

				assert.Equal(t, whole.Schema(), got.Schema(), "mode %s sample %d size %d", mode, sample, size)
				assert.True(t, table.Equal(whole, got), "mode %s sample %d size %d", mode, sample, size)
				assert.ElementsMatch(t, whole.Diagnostics, got.Diagnostics,
					"mode %s sample %d size %d", mode, sample, size)
			}
		}
	}
}

func TestLateTypeChangeByMode(t *testing.T) {
	ctx := context.Background()
	path := writeFile(t, housingCSV())

	tests := []struct {
		mode     format.InferenceMode
		built    table.Type
		price    table.Type
		nulls    bool
		diagRows []int
	}{
		{format.Strict, table.Categorical, table.Float, false, nil},
		{format.Sampling, table.Int, table.Int, true, []int{40, 45}},
		{format.Fast, table.String, table.Float, false, []int{40, 45}},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			got, err := Collect(ctx, path, 64,
				format.NewDelimited(format.Options{Inference: tt.mode, SampleRows: 10}))
			require.NoError(t, err)

			built, _ := got.Column("built")
			price, _ := got.Column("price")
			assert.Equal(t, tt.built, built.Type)
			assert.Equal(t, tt.price, price.Type)
			assert.Equal(t, tt.nulls, built.IsNull(39))
			assert.Equal(t, tt.nulls, price.IsNull(44))

			var rows []int
			for _, d := range got.Diagnostics {
				rows = append(rows, d.Row)
			}
			assert.ElementsMatch(t, tt.diagRows, rows)
		})
	}
}

func TestDeclaredSchemaChunked(t *testing.T) {
	path := writeFile(t, "a,b\n1,x\n2,y\n")

	got, err := Collect(context.Background(), path, 4, format.NewDelimited(format.Options{
		Schema: table.Schema{{Name: "a", Type: table.Float}, {Name: "b", Type: table.String}},
	}))
	require.NoError(t, err)

	assert.Equal(t, table.Schema{{Name: "a", Type: table.Float}, {Name: "b", Type: table.String}}, got.Schema())
}

func TestChunksCoverFile(t *testing.T) {
	ctx := context.Background()
	content := stationsCSV(100)
	path := writeFile(t, content)

	s, err := Open(path, 100, format.NewDelimited(format.Options{}))
	require.NoError(t, err)
	defer s.Close()

	var (
		next int64
		rows int
		n    int
	)

	for {
		tbl, ch, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)

		assert.Equal(t, path, ch.SourcePath)
		assert.Equal(t, next, ch.Offset, "chunks are contiguous")
		assert.Equal(t, byte('\n'), content[ch.Offset+ch.Length-1], "chunk ends on a record boundary")
		assert.Positive(t, tbl.NumRows())

		next += ch.Length
		rows += tbl.NumRows()
		n++
	}

	assert.Equal(t, int64(len(content)), next)
	assert.Equal(t, 100, rows)
	assert.Greater(t, n, 1)
	assert.Equal(t, []string{"id", "value", "station"}, s.Header())
}

func TestEarlyBreakReleasesFile(t *testing.T) {
	path := writeFile(t, stationsCSV(50))

	s, err := Open(path, 16, format.NewDelimited(format.Options{}))
	require.NoError(t, err)

	for tbl, err := range s.All(context.Background()) {
		require.NoError(t, err)
		require.NotNil(t, tbl)

		break
	}

	assert.Nil(t, s.f)

	_, _, err = s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF, "stream cannot be restarted")
}

func TestFinalRecordWithoutNewline(t *testing.T) {
	path := writeFile(t, "a,b\n1,2\n3,4")

	got, err := Collect(context.Background(), path, 3, format.NewDelimited(format.Options{}))
	require.NoError(t, err)

	b, ok := got.Column("b")
	require.True(t, ok)
	assert.Equal(t, []int64{2, 4}, b.Ints)
}

func TestHeaderOnly(t *testing.T) {
	path := writeFile(t, "a,b\n")

	s, err := Open(path, 2, format.NewDelimited(format.Options{}))
	require.NoError(t, err)

	_, _, err = s.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.Nil(t, s.f)
}

func TestEmptyFile(t *testing.T) {
	path := writeFile(t, "")

	_, err := Collect(context.Background(), path, 8, format.NewDelimited(format.Options{}))

	var ue *format.UnreadableSourceError
	assert.ErrorAs(t, err, &ue)
}

func TestDiagnosticsUseGlobalRows(t *testing.T) {
	path := writeFile(t, "x\n1\n2\nfoo\n4\n")

	got, err := Collect(context.Background(), path, 2,
		format.NewDelimited(format.Options{Inference: format.Sampling, SampleRows: 2}))
	require.NoError(t, err)

	x, _ := got.Column("x")
	assert.Equal(t, table.Int, x.Type)
	assert.True(t, x.IsNull(2))

	require.Len(t, got.Diagnostics, 1)
	assert.Equal(t, 3, got.Diagnostics[0].Row)
	assert.Equal(t, "x", got.Diagnostics[0].Column)
}

func TestMalformedChunk(t *testing.T) {
	path := writeFile(t, "a,b\n1,2\n3\n")

	_, err := Collect(context.Background(), path, 4, format.NewDelimited(format.Options{}))

	var ue *format.UnreadableSourceError
	assert.ErrorAs(t, err, &ue)
}
