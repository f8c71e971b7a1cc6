package yamlstore

import (
	"fmt"

	"github.com/aretw0/wadialog/pkg/domain"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// stageDoc is the on-disk shape of one stage. Keys follow the kebab-case
// naming used by the stage files.
type stageDoc struct {
	Type    string    `yaml:"type"`
	Message any       `yaml:"message"`
	Routes  yaml.Node `yaml:"routes"`

	Ack           bool   `yaml:"ack"`
	Authenticated bool   `yaml:"authenticated"`
	Checkpoint    bool   `yaml:"checkpoint"`
	Session       bool   `yaml:"session"`
	Transient     bool   `yaml:"transient"`
	Prop          string `yaml:"prop"`
	MessageID     string `yaml:"message-id"`

	// Template is the older name of on-generate.
	Template   string `yaml:"template"`
	OnGenerate string `yaml:"on-generate"`
	OnReceive  string `yaml:"on-receive"`
	Validator  string `yaml:"validator"`
	Router     string `yaml:"router"`
	Middleware string `yaml:"middleware"`

	Params map[string]any `yaml:"params"`
}

// ParseStages decodes a stages document: a mapping of stage name to stage.
// Route order is the order the routes appear in the document.
func ParseStages(data []byte) ([]domain.Stage, error) {
	root, err := document(data)
	if err != nil || root == nil {
		return nil, err
	}

	var stages []domain.Stage
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		var doc stageDoc
		if err := root.Content[i+1].Decode(&doc); err != nil {
			return nil, fmt.Errorf("stage '%s': %w", name, err)
		}
		stage, err := doc.stage(name)
		if err != nil {
			return nil, fmt.Errorf("stage '%s': %w", name, err)
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

// ParseTriggers decodes a triggers document: a mapping of "target|param" to
// the pattern that fires it.
func ParseTriggers(data []byte) ([]domain.Trigger, error) {
	root, err := document(data)
	if err != nil || root == nil {
		return nil, err
	}

	var triggers []domain.Trigger
	for i := 0; i+1 < len(root.Content); i += 2 {
		target, pattern := root.Content[i].Value, root.Content[i+1].Value
		tr, err := domain.NewTrigger(pattern, target)
		if err != nil {
			return nil, fmt.Errorf("trigger '%s': %w", target, err)
		}
		triggers = append(triggers, tr)
	}
	return triggers, nil
}

// document returns the top-level mapping node, or nil for an empty document.
func document(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid yaml: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("expected a mapping at the top level, got %s", kindName(root.Kind))
	}
	return root, nil
}

func (d stageDoc) stage(name string) (domain.Stage, error) {
	kind := domain.Kind(d.Type)
	if !kind.Valid() {
		return domain.Stage{}, fmt.Errorf("unknown type '%s'", d.Type)
	}
	msg, err := decodeMessage(kind, d.Message)
	if err != nil {
		return domain.Stage{}, err
	}
	routes, err := decodeRoutes(&d.Routes)
	if err != nil {
		return domain.Stage{}, err
	}

	onGenerate := d.OnGenerate
	if onGenerate == "" {
		onGenerate = d.Template
	}

	return domain.Stage{
		Name:           name,
		Message:        msg,
		Routes:         routes,
		Session:        d.Session,
		Checkpoint:     d.Checkpoint,
		Authenticated:  d.Authenticated,
		Acknowledge:    d.Ack,
		Transient:      d.Transient,
		Prop:           d.Prop,
		ReplyMessageID: d.MessageID,
		OnGenerate:     onGenerate,
		OnReceive:      d.OnReceive,
		Validator:      d.Validator,
		Middleware:     d.Middleware,
		Router:         d.Router,
		Params:         d.Params,
	}, nil
}

func decodeRoutes(node *yaml.Node) ([]domain.Route, error) {
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		if node.Tag == "!!null" {
			return nil, nil
		}
	case yaml.MappingNode:
		routes := make([]domain.Route, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			r, err := domain.NewRoute(node.Content[i].Value, node.Content[i+1].Value)
			if err != nil {
				return nil, err
			}
			routes = append(routes, r)
		}
		return routes, nil
	}
	return nil, fmt.Errorf("routes must be a mapping of pattern to stage, got %s", kindName(node.Kind))
}

func decodeMessage(kind domain.Kind, raw any) (domain.Message, error) {
	if kind == domain.KindDynamic {
		return domain.DynamicMessage{}, nil
	}
	if raw == nil {
		return nil, fmt.Errorf("type '%s' requires a message", kind)
	}
	if body, ok := raw.(string); ok {
		switch kind {
		case domain.KindText:
			return domain.TextMessage{Body: body}, nil
		case domain.KindRequestLocation:
			return domain.RequestLocationMessage{Body: body}, nil
		}
		return nil, fmt.Errorf("type '%s' requires a message mapping", kind)
	}

	switch kind {
	case domain.KindText:
		return decode[domain.TextMessage](raw)
	case domain.KindButton:
		return decode[domain.ButtonMessage](raw)
	case domain.KindList:
		return decode[domain.ListMessage](raw)
	case domain.KindCTA:
		return decode[domain.CTAMessage](raw)
	case domain.KindTemplate:
		return decode[domain.TemplateMessage](raw)
	case domain.KindMedia:
		return decode[domain.MediaMessage](raw)
	case domain.KindFlow:
		return decode[domain.FlowMessage](raw)
	case domain.KindLocation:
		return decode[domain.LocationMessage](raw)
	case domain.KindRequestLocation:
		return decode[domain.RequestLocationMessage](raw)
	case domain.KindCatalog:
		return decode[domain.CatalogMessage](raw)
	case domain.KindProduct:
		return decode[domain.ProductMessage](raw)
	case domain.KindProducts:
		return decode[domain.ProductsMessage](raw)
	}
	return nil, fmt.Errorf("unsupported type '%s'", kind)
}

func decode[T domain.Message](raw any) (domain.Message, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, fmt.Errorf("invalid %s message: %w", out.Kind(), err)
	}
	return out, nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	}
	return "document"
}
