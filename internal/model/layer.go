package model

// LayerNode is a node of the read-only template tree.
type LayerNode struct {
	ID       int         `json:"id"`
	Name     string      `json:"name"`
	Type     LayerType   `json:"type"`
	Visible  bool        `json:"visible"`
	Text     *string     `json:"text,omitempty"`
	Children []LayerNode `json:"children,omitempty"`
}

// CountLayers returns the number of nodes in the forest, groups included.
func CountLayers(layers []LayerNode) int {
	n := 0
	for _, l := range layers {
		n += 1 + CountLayers(l.Children)
	}
	return n
}

// LocalFile is a replacement image staged on local disk.
type LocalFile struct {
	Path        string `json:"path"`
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType,omitempty"`
}

// EditSet is a sparse overlay of user changes keyed by layer id.
// A missing key inherits the template default.
type EditSet struct {
	Visibility   map[int]bool       `json:"visibility,omitempty"`
	Text         map[int]string     `json:"text,omitempty"`
	SmartObjects map[int]*LocalFile `json:"smartObjects,omitempty"`
}

// Originals holds the template defaults for visibility and text.
type Originals struct {
	Visibility map[int]bool   `json:"visibility"`
	Text       map[int]string `json:"text"`
}

// OriginalsFromLayers collects template defaults from the whole tree.
func OriginalsFromLayers(layers []LayerNode) Originals {
	o := Originals{
		Visibility: make(map[int]bool),
		Text:       make(map[int]string),
	}
	var walk func([]LayerNode)
	walk = func(nodes []LayerNode) {
		for _, n := range nodes {
			o.Visibility[n.ID] = n.Visible
			if n.Text != nil {
				o.Text[n.ID] = *n.Text
			}
			walk(n.Children)
		}
	}
	walk(layers)
	return o
}

// FindLayer returns the node with the given id, searching depth-first.
func FindLayer(layers []LayerNode, id int) (*LayerNode, bool) {
	for i := range layers {
		if layers[i].ID == id {
			return &layers[i], true
		}
		if found, ok := FindLayer(layers[i].Children, id); ok {
			return found, true
		}
	}
	return nil, false
}
