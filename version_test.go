package gkel_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iov-one/gkel"
)

func TestVersion(t *testing.T) {
	gkel.GitCommit = ""
	assert.Equal(t, "v0.1.0-dev", gkel.Version())

	gkel.GitCommit = "12345678"
	assert.Equal(t, "v0.1.0-dev 12345678", gkel.Version())
	gkel.GitCommit = ""
}
