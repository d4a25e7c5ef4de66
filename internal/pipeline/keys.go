package pipeline

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// outputTimeLayout renders MM:DD:YY_HH:mm.
const outputTimeLayout = "01:02:06_15:04"

// LayerStructureFile is the name of the extracted template tree next to the template.
const LayerStructureFile = "layer_structure.json"

// TemplateBaseName is the last path element of the template key without its extension.
func TemplateBaseName(templateKey string) string {
	base := path.Base(strings.TrimRight(templateKey, "/"))
	return strings.TrimSuffix(base, path.Ext(base))
}

// OutputKey is the destination object key for an artifact rendered at t.
func OutputKey(templateKey string, t time.Time) string {
	return fmt.Sprintf("%s/output/output_%s.jpg", TemplateBaseName(templateKey), t.Format(outputTimeLayout))
}

// SmartObjectKey is where a replacement image for layerID is uploaded.
func SmartObjectKey(templateKey, runID string, layerID int, fileName string) string {
	return fmt.Sprintf("%s/inputs/%s/%d_%s", TemplateBaseName(templateKey), runID, layerID, sanitizeName(fileName))
}

// LayerStructureKey is the object key of the template's extracted layer tree.
func LayerStructureKey(templateKey string) string {
	return TemplateBaseName(templateKey) + "/" + LayerStructureFile
}

func sanitizeName(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
