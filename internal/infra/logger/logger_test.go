package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogger_LevelFilteringAndModules(t *testing.T) {
	var buf bytes.Buffer
	root := NewWithWriter("cabildo", "warn", &buf, false)
	sub := root.Named("Engine")

	sub.Infof("hidden %d", 1)
	sub.Warnf("shown %d", 2)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WRN [cabildo/Engine] shown 2")
}

func TestNop_DiscardsEverything(t *testing.T) {
	l := Nop()
	l.Errorf("nothing")
	l.Sub("x").Errorf("still nothing")
}
