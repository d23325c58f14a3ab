package wraperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var (
	errLowLevel = errors.New("low level failure")
	errKindA    = errors.New("kind a")
	errKindB    = errors.New("kind b")
)

func TestWrapNilIsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, nil, "op", errKindA))
}

func TestWrapRewrapsUnexcluded(t *testing.T) {
	err := Wrap(nil, errLowLevel, "op.do", errKindA)
	assert.ErrorIs(t, err, errKindA)
	assert.Contains(t, err.Error(), errLowLevel.Error())
}

func TestWrapPassesThroughExcluded(t *testing.T) {
	err := Wrap(nil, errKindB, "op.do", errKindA, errKindB)
	assert.ErrorIs(t, err, errKindB)
	assert.NotErrorIs(t, err, errKindA)
}
