// Copyright 2025 Praxis Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package aui

// Builder assembles a Surface one component at a time. Methods chain;
// call Surface with the root component ID to finish.
type Builder struct {
	surfaceID  string
	components []Component
	data       map[string]any
}

// NewBuilder starts a surface with the given ID.
func NewBuilder(surfaceID string) *Builder {
	return &Builder{surfaceID: surfaceID}
}

func (b *Builder) add(id, typ string, props any) *Builder {
	b.components = append(b.components, Component{ID: id, Type: typ, Props: props})
	return b
}

// Text adds a text component. usageHint may be empty for body text.
func (b *Builder) Text(id, text, usageHint string) *Builder {
	return b.add(id, TypeText, &TextProps{Text: Literal(text), UsageHint: usageHint})
}

// Button adds a button labelled by an implicit text child.
func (b *Builder) Button(id, label, action, style string) *Builder {
	labelID := id + "_label"
	b.Text(labelID, label, "")
	return b.add(id, TypeButton, &ButtonProps{
		Child:  labelID,
		Action: &Action{Name: action},
		Style:  style,
	})
}

// TextField adds an input bound to the given data-model path.
func (b *Builder) TextField(id, path, label, hint string) *Builder {
	p := &TextFieldProps{Value: Bind(path)}
	if label != "" {
		p.LabelText = Literal(label)
	}
	if hint != "" {
		p.HintText = Literal(hint)
	}
	return b.add(id, TypeTextField, p)
}

// Checkbox adds a checkbox labelled by an implicit text child.
func (b *Builder) Checkbox(id, label, path string) *Builder {
	labelID := id + "_label"
	b.Text(labelID, label, "")
	return b.add(id, TypeCheckbox, &CheckboxProps{Label: labelID, Value: Bind(path)})
}

// Image adds an image from a literal source URL.
func (b *Builder) Image(id, source, alt string) *Builder {
	p := &ImageProps{Source: Literal(source)}
	if alt != "" {
		p.AltText = Literal(alt)
	}
	return b.add(id, TypeImage, p)
}

// Divider adds a horizontal rule.
func (b *Builder) Divider(id string) *Builder {
	return b.add(id, TypeDivider, &DividerProps{})
}

// Spacer adds fixed vertical space.
func (b *Builder) Spacer(id string, size int) *Builder {
	return b.add(id, TypeSpacer, &SpacerProps{Size: size})
}

// Column lays out the referenced children vertically.
func (b *Builder) Column(id string, children []string, spacing int) *Builder {
	return b.add(id, TypeColumn, &LayoutProps{Children: children, Spacing: spacing})
}

// Row lays out the referenced children horizontally.
func (b *Builder) Row(id string, children []string, spacing int) *Builder {
	return b.add(id, TypeRow, &LayoutProps{Children: children, Spacing: spacing})
}

// Card wraps a child component in an elevated card.
func (b *Builder) Card(id, child string, elevation int) *Builder {
	return b.add(id, TypeCard, &CardProps{Child: child, Elevation: elevation})
}

// Data sets one entry of the surface data model.
func (b *Builder) Data(key string, value any) *Builder {
	if b.data == nil {
		b.data = make(map[string]any)
	}
	b.data[key] = value
	return b
}

// Surface finishes the build with the given root component.
func (b *Builder) Surface(root string) *Surface {
	return &Surface{
		SurfaceID:  b.surfaceID,
		Components: b.components,
		Data:       b.data,
		Root:       root,
	}
}
