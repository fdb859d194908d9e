package hierarchy

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestDedupe(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	got := Dedupe([]SuperiorRef{{ID: a, Name: "first"}, {ID: b}, {ID: a, Name: "again"}})

	assert.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Name)
	assert.Equal(t, b, got[1].ID)
	assert.Empty(t, Dedupe(nil))
}
