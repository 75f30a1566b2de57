package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "r1.json", (&Store{}).objectKey("/r1.json"))
	assert.Equal(t, "scans/r1.json", (&Store{prefix: "scans"}).objectKey("r1.json"))
}
