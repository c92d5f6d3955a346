package sweep

import (
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestParseIndices(t *testing.T) {
	tests := []struct {
		name string
		spec string
		want []int
	}{
		{"single", "8", []int{8}},
		{"zero", "0", []int{0}},
		{"half open range", "1-10", []int{1, 2, 3, 4, 5, 6, 7, 8, 9}},
		{"short range", "0-3", []int{0, 1, 2}},
		{"list keeps order", "1,2,7", []int{1, 2, 7}},
		{"list keeps duplicates", "3,1,3", []int{3, 1, 3}},
		{"whitespace in list", " 2 , 4 ", []int{2, 4}},
		{"whitespace in range", " 1 - 3 ", []int{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseIndices(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseIndicesRejects(t *testing.T) {
	for _, spec := range []string{"abc", "", "5-5", "7-2", "1-2-3", "1,x", "a-3", "1.5", "+3", " 8 ", "8\n", "1,+2"} {
		t.Run(spec, func(t *testing.T) {
			_, err := ParseIndices(spec)
			require.Error(t, err)

			var fe *FormatError
			assert.True(t, errors.As(err, &fe))
			assert.Contains(t, err.Error(), "'1-10'")
			assert.Contains(t, err.Error(), "'8'")
			assert.Contains(t, err.Error(), "'1,2,7'")
		})
	}
}

func TestParseIndicesRangeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		begin := rapid.IntRange(0, 500).Draw(t, "begin")
		width := rapid.IntRange(1, 200).Draw(t, "width")
		end := begin + width

		got, err := ParseIndices(strconv.Itoa(begin) + "-" + strconv.Itoa(end))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != width {
			t.Fatalf("expected %d indices, got %d", width, len(got))
		}
		for i, v := range got {
			if v != begin+i {
				t.Fatalf("index %d: expected %d, got %d", i, begin+i, v)
			}
		}
	})
}
