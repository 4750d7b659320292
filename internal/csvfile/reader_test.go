package csvfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestReader_Read(t *testing.T) {
	path := writeFile(t, []byte("id,name,wkt\n1,alpha,POINT(1 2)\n2,\"beta, quoted\",POINT(3 4)\n3,gamma,\n"))

	r, err := Open(path, ",", "")
	require.NoError(t, err)

	tests := []struct {
		name   string
		offset int
		limit  int
		want   [][]string
	}{
		{
			name:  "header only",
			limit: 1,
			want:  [][]string{{"id", "name", "wkt"}},
		},
		{
			name:   "probe row",
			offset: 1,
			limit:  1,
			want:   [][]string{{"1", "alpha", "POINT(1 2)"}},
		},
		{
			name:   "all data rows",
			offset: 1,
			want: [][]string{
				{"1", "alpha", "POINT(1 2)"},
				{"2", "beta, quoted", "POINT(3 4)"},
				{"3", "gamma", ""},
			},
		},
		{
			name:   "offset past end",
			offset: 10,
			limit:  1,
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Read(tt.offset, tt.limit)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Read(%d, %d) mismatch (-want +got):\n%s", tt.offset, tt.limit, diff)
			}
		})
	}
}

func TestReader_EmptyAndSingleLineFiles(t *testing.T) {
	empty := writeFile(t, nil)
	r, err := Open(empty, ",", "")
	require.NoError(t, err)

	got, err := r.Read(0, 1)
	require.NoError(t, err)
	require.Empty(t, got)

	single := writeFile(t, []byte("id,name"))
	r, err = Open(single, ",", "")
	require.NoError(t, err)

	got, err = r.Read(1, 1)
	require.NoError(t, err)
	require.Empty(t, got, "a header-only file has no data rows")
}

func TestReader_MissingFile(t *testing.T) {
	r, err := Open(filepath.Join(t.TempDir(), "nope.csv"), ",", "")
	require.NoError(t, err)

	_, err = r.Read(0, 1)
	require.Error(t, err)
}

func TestReader_StripsBOMAndUsesSeparator(t *testing.T) {
	content := append([]byte{0xEF, 0xBB, 0xBF}, []byte("id;longitude;latitude\n7;2.35;48.85\n")...)
	r, err := Open(writeFile(t, content), ";", "utf-8")
	require.NoError(t, err)

	got, err := r.Read(0, 0)
	require.NoError(t, err)
	want := [][]string{{"id", "longitude", "latitude"}, {"7", "2.35", "48.85"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Read mismatch (-want +got):\n%s", diff)
	}
}

func TestReader_Windows1252(t *testing.T) {
	// "café" with 0xE9 for é
	r, err := Open(writeFile(t, []byte("id,name\n1,caf\xe9\n")), ",", "windows-1252")
	require.NoError(t, err)

	got, err := r.Read(1, 1)
	require.NoError(t, err)
	require.Equal(t, [][]string{{"1", "café"}}, got)
}

func TestReader_InvalidUTF8Replaced(t *testing.T) {
	r, err := Open(writeFile(t, []byte("id,name\n1,ab\xffc\n")), ",", "")
	require.NoError(t, err)

	got, err := r.Read(1, 1)
	require.NoError(t, err)
	require.Equal(t, "ab\uFFFDc", got[0][1])
}

func TestReader_RecordsIsRestartable(t *testing.T) {
	r, err := Open(writeFile(t, []byte("id\n1\n2\n3\n")), ",", "")
	require.NoError(t, err)

	rows := r.Records(1)
	for pass := 0; pass < 2; pass++ {
		var lines []int
		var ids []string
		for line, rec := range rows.All() {
			lines = append(lines, line)
			ids = append(ids, rec[0])
		}
		require.NoError(t, rows.Err())
		require.Equal(t, []int{2, 3, 4}, lines, "pass %d", pass)
		require.Equal(t, []string{"1", "2", "3"}, ids, "pass %d", pass)
	}
}

func TestReader_UnreadablePathIsAnError(t *testing.T) {
	r, err := Open(t.TempDir(), ",", "")
	require.NoError(t, err)

	got, err := r.Read(0, 1)
	require.Error(t, err, "a directory is not an empty file")
	require.Nil(t, got)

	rows := r.Records(1)
	n := 0
	for range rows.All() {
		n++
	}
	require.Zero(t, n)
	require.Error(t, rows.Err())
}

func TestRows_ErrReportsVanishedFile(t *testing.T) {
	path := writeFile(t, []byte("id\n1\n"))
	r, err := Open(path, ",", "")
	require.NoError(t, err)

	rows := r.Records(1)
	for range rows.All() {
	}
	require.NoError(t, rows.Err())

	require.NoError(t, os.Remove(path))
	for range rows.All() {
		t.Fatal("no record expected")
	}
	require.ErrorIs(t, rows.Err(), os.ErrNotExist)
}

func TestRows_EarlyStopIsNotAnError(t *testing.T) {
	r, err := Open(writeFile(t, []byte("id\n1\n2\n3\n")), ",", "")
	require.NoError(t, err)

	rows := r.Records(1)
	for _, rec := range rows.All() {
		if rec[0] == "2" {
			break
		}
	}
	require.NoError(t, rows.Err())
}

func TestParseSeparator(t *testing.T) {
	tests := []struct {
		in      string
		want    rune
		wantErr bool
	}{
		{in: "", want: ','},
		{in: ";", want: ';'},
		{in: "|", want: '|'},
		{in: `\t`, want: '\t'},
		{in: "tab", want: '\t'},
		{in: ";;", wantErr: true},
		{in: `"`, wantErr: true},
		{in: "\n", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseSeparator(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSeparator(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSeparator(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOpen_UnknownEncoding(t *testing.T) {
	_, err := Open("x.csv", ",", "ebcdic")
	require.Error(t, err)
}
