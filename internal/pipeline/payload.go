package pipeline

import "github.com/assetgen/api/internal/model"

// BuildLayerEdits flattens the template tree in pre-order into the render API's
// layer list. Every node is emitted, groups included, so the render side can
// match layers by position. The result depends only on its inputs.
func BuildLayerEdits(layers []model.LayerNode, edits model.EditSet, originals model.Originals, smartObjectURLs map[int]string) []model.LayerEditDescriptor {
	out := make([]model.LayerEditDescriptor, 0, model.CountLayers(layers))

	var walk func(nodes []model.LayerNode)
	walk = func(nodes []model.LayerNode) {
		for _, node := range nodes {
			out = append(out, describeLayer(node, edits, originals, smartObjectURLs))
			walk(node.Children)
		}
	}
	walk(layers)

	return out
}

func describeLayer(node model.LayerNode, edits model.EditSet, originals model.Originals, smartObjectURLs map[int]string) model.LayerEditDescriptor {
	d := model.LayerEditDescriptor{
		Name:    node.Name,
		Visible: node.Visible,
	}
	if v, ok := edits.Visibility[node.ID]; ok {
		d.Visible = v
	}

	switch node.Type {
	case model.LayerTypeText:
		if content, ok := effectiveText(node, edits, originals); ok {
			d.Text = &model.TextContent{Content: content}
		}
	case model.LayerTypeSmartObject:
		if href := smartObjectURLs[node.ID]; href != "" {
			d.Input = &model.ExternalRef{Storage: model.StorageExternal, Href: href}
		}
	}

	return d
}

// effectiveText resolves edit, then original, then the node's own text.
func effectiveText(node model.LayerNode, edits model.EditSet, originals model.Originals) (string, bool) {
	if t, ok := edits.Text[node.ID]; ok {
		return t, true
	}
	if t, ok := originals.Text[node.ID]; ok {
		return t, true
	}
	if node.Text != nil {
		return *node.Text, true
	}
	return "", false
}

// ChangedLayers counts the layers whose effective state differs from the template.
func ChangedLayers(layers []model.LayerNode, edits model.EditSet, originals model.Originals) int {
	changed := 0
	var walk func(nodes []model.LayerNode)
	walk = func(nodes []model.LayerNode) {
		for _, node := range nodes {
			v, hasV := edits.Visibility[node.ID]
			t, hasT := edits.Text[node.ID]
			_, hasSO := edits.SmartObjects[node.ID]
			switch {
			case hasV && v != node.Visible:
				changed++
			case hasT && t != originals.Text[node.ID]:
				changed++
			case hasSO && edits.SmartObjects[node.ID] != nil:
				changed++
			}
			walk(node.Children)
		}
	}
	walk(layers)
	return changed
}
