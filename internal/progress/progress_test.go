package progress

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Unknown(t *testing.T) {
	_, err := New("jupyter", 10)
	assert.Error(t, err)
	assert.Equal(t, []string{"default", "log", "none"}, Names())
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewWithWriter("log", 20, &buf)
	require.NoError(t, err)

	p.Add(1)
	assert.Empty(t, buf.String(), "5% is below the first report")
	p.Add(1)
	p.Add(10)
	p.Done()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], `"percent":10`)
	assert.Contains(t, lines[1], `"percent":60`)
	assert.Contains(t, lines[2], "Progress complete")
}

func TestTerminal(t *testing.T) {
	var buf bytes.Buffer
	p, err := NewWithWriter("default", 4, &buf)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		p.Add(1)
	}
	p.Done()
	assert.Contains(t, buf.String(), "4/4")
}

func TestNop(t *testing.T) {
	p, err := New("none", 3)
	require.NoError(t, err)
	p.Add(3)
	p.Done()
}
