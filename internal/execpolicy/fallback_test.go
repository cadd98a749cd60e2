package execpolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsObviouslyReadOnly(t *testing.T) {
	assert.True(t, isObviouslyReadOnly([]string{"ls"}))
	assert.True(t, isObviouslyReadOnly([]string{"echo", "hi"}))
	assert.False(t, isObviouslyReadOnly([]string{"curl", "http://example.com"}))
	assert.False(t, isObviouslyReadOnly(nil))
}
