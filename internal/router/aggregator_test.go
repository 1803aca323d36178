package router

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ploinky/ploinky/internal/mcpclient"
)

func TestAnnotateTool_MergesExistingAnnotations(t *testing.T) {
	tool := mcpclient.Tool{
		Name: "search",
		Annotations: map[string]interface{}{
			"readOnlyHint": true,
		},
	}

	annotated := annotateTool(tool, "demo")

	assert.Equal(t, true, annotated.Annotations["readOnlyHint"])
	assert.Equal(t, map[string]interface{}{"agent": "demo"}, annotated.Annotations["router"])
}

func TestAnnotateTool_NoExistingAnnotations(t *testing.T) {
	tool := mcpclient.Tool{Name: "search"}

	annotated := annotateTool(tool, "demo")

	assert.Equal(t, map[string]interface{}{"agent": "demo"}, annotated.Annotations["router"])
	assert.Len(t, annotated.Annotations, 1)
}
