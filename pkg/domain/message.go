package domain

// Kind discriminates the outbound message shape of a Stage.
type Kind string

const (
	KindText            Kind = "text"
	KindButton          Kind = "button"
	KindList            Kind = "list"
	KindCTA             Kind = "cta"
	KindTemplate        Kind = "template"
	KindDynamic         Kind = "dynamic"
	KindMedia           Kind = "media"
	KindFlow            Kind = "flow"
	KindLocation        Kind = "location"
	KindRequestLocation Kind = "request-location"
	KindCatalog         Kind = "catalog"
	KindProduct         Kind = "product"
	KindProducts        Kind = "products"
)

// Kinds lists every known stage kind.
var Kinds = []Kind{
	KindText, KindButton, KindList, KindCTA, KindTemplate, KindDynamic, KindMedia,
	KindFlow, KindLocation, KindRequestLocation, KindCatalog, KindProduct, KindProducts,
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// CarriesDecision reports whether a reply to a stage of this kind can be
// matched against routes. Replies to the other kinds take the first route.
func (k Kind) CarriesDecision() bool {
	switch k {
	case KindMedia, KindFlow, KindRequestLocation, KindTemplate, KindCTA,
		KindCatalog, KindProduct, KindProducts:
		return false
	}
	return true
}

// Message is the outbound shape of a Stage.
// The set of implementations is closed to this package.
type Message interface {
	Kind() Kind
	isMessage()
}

// TextMessage is a plain text body.
type TextMessage struct {
	Body       string `json:"body" mapstructure:"body"`
	PreviewURL bool   `json:"preview_url,omitempty" mapstructure:"preview-url"`
}

// ButtonMessage is a reply-button message (up to three buttons on the platform).
type ButtonMessage struct {
	Title   string   `json:"title,omitempty" mapstructure:"title"`
	Body    string   `json:"body" mapstructure:"body"`
	Footer  string   `json:"footer,omitempty" mapstructure:"footer"`
	Buttons []string `json:"buttons" mapstructure:"buttons"`
}

// ListRow is a single selectable row of a ListMessage.
type ListRow struct {
	ID          string `json:"id" mapstructure:"id"`
	Title       string `json:"title" mapstructure:"title"`
	Description string `json:"description,omitempty" mapstructure:"description"`
}

// ListSection groups rows of a ListMessage.
type ListSection struct {
	Title string    `json:"title" mapstructure:"title"`
	Rows  []ListRow `json:"rows" mapstructure:"rows"`
}

// ListMessage is an interactive list.
type ListMessage struct {
	Title    string        `json:"title,omitempty" mapstructure:"title"`
	Body     string        `json:"body" mapstructure:"body"`
	Footer   string        `json:"footer,omitempty" mapstructure:"footer"`
	Button   string        `json:"button" mapstructure:"button"`
	Sections []ListSection `json:"sections" mapstructure:"sections"`
}

// CTAMessage is a call-to-action URL button.
type CTAMessage struct {
	Title  string `json:"title,omitempty" mapstructure:"title"`
	Body   string `json:"body" mapstructure:"body"`
	Footer string `json:"footer,omitempty" mapstructure:"footer"`
	Button string `json:"button" mapstructure:"button"`
	URL    string `json:"url" mapstructure:"url"`
}

// TemplateMessage references a pre-approved platform template.
type TemplateMessage struct {
	Name       string           `json:"name" mapstructure:"name"`
	Language   string           `json:"language" mapstructure:"language"`
	Components []map[string]any `json:"components,omitempty" mapstructure:"components"`
}

// DynamicMessage has no static shape. The stage's on-generate hook supplies
// the message through OutboundContent.
type DynamicMessage struct{}

// MediaMessage sends an image, video, audio, document or sticker.
type MediaMessage struct {
	MediaType string `json:"media_type" mapstructure:"kind"`
	MediaID   string `json:"media_id,omitempty" mapstructure:"media-id"`
	URL       string `json:"url,omitempty" mapstructure:"url"`
	Caption   string `json:"caption,omitempty" mapstructure:"caption"`
	Filename  string `json:"filename,omitempty" mapstructure:"filename"`
}

// FlowMessage opens a platform Flow.
type FlowMessage struct {
	FlowID string `json:"flow_id" mapstructure:"flow-id"`
	Title  string `json:"title,omitempty" mapstructure:"title"`
	Body   string `json:"body" mapstructure:"body"`
	Footer string `json:"footer,omitempty" mapstructure:"footer"`
	Button string `json:"button" mapstructure:"button"`
	Screen string `json:"screen" mapstructure:"screen"`
	Draft  bool   `json:"draft,omitempty" mapstructure:"draft"`
}

// LocationMessage sends a pinned location.
type LocationMessage struct {
	Latitude  float64 `json:"latitude" mapstructure:"lat"`
	Longitude float64 `json:"longitude" mapstructure:"lon"`
	Name      string  `json:"name,omitempty" mapstructure:"name"`
	Address   string  `json:"address,omitempty" mapstructure:"address"`
}

// RequestLocationMessage asks the user to share their location.
type RequestLocationMessage struct {
	Body string `json:"body" mapstructure:"body"`
}

// CatalogMessage shows the business catalog.
type CatalogMessage struct {
	Title     string `json:"title,omitempty" mapstructure:"title"`
	Body      string `json:"body" mapstructure:"body"`
	Footer    string `json:"footer,omitempty" mapstructure:"footer"`
	ProductID string `json:"product_id,omitempty" mapstructure:"product-id"`
}

// ProductMessage shows a single catalog product.
type ProductMessage struct {
	Body      string `json:"body,omitempty" mapstructure:"body"`
	Footer    string `json:"footer,omitempty" mapstructure:"footer"`
	CatalogID string `json:"catalog_id" mapstructure:"catalog-id"`
	ProductID string `json:"product_id" mapstructure:"product-id"`
}

// ProductSection groups products of a ProductsMessage.
type ProductSection struct {
	Title      string   `json:"title" mapstructure:"title"`
	ProductIDs []string `json:"product_ids" mapstructure:"products"`
}

// ProductsMessage shows several catalog products.
type ProductsMessage struct {
	Title     string           `json:"title" mapstructure:"title"`
	Body      string           `json:"body" mapstructure:"body"`
	Footer    string           `json:"footer,omitempty" mapstructure:"footer"`
	CatalogID string           `json:"catalog_id" mapstructure:"catalog-id"`
	Sections  []ProductSection `json:"sections" mapstructure:"sections"`
}

func (TextMessage) Kind() Kind            { return KindText }
func (ButtonMessage) Kind() Kind          { return KindButton }
func (ListMessage) Kind() Kind            { return KindList }
func (CTAMessage) Kind() Kind             { return KindCTA }
func (TemplateMessage) Kind() Kind        { return KindTemplate }
func (DynamicMessage) Kind() Kind         { return KindDynamic }
func (MediaMessage) Kind() Kind           { return KindMedia }
func (FlowMessage) Kind() Kind            { return KindFlow }
func (LocationMessage) Kind() Kind        { return KindLocation }
func (RequestLocationMessage) Kind() Kind { return KindRequestLocation }
func (CatalogMessage) Kind() Kind         { return KindCatalog }
func (ProductMessage) Kind() Kind         { return KindProduct }
func (ProductsMessage) Kind() Kind        { return KindProducts }

func (TextMessage) isMessage()            {}
func (ButtonMessage) isMessage()          {}
func (ListMessage) isMessage()            {}
func (CTAMessage) isMessage()             {}
func (TemplateMessage) isMessage()        {}
func (DynamicMessage) isMessage()         {}
func (MediaMessage) isMessage()           {}
func (FlowMessage) isMessage()            {}
func (LocationMessage) isMessage()        {}
func (RequestLocationMessage) isMessage() {}
func (CatalogMessage) isMessage()         {}
func (ProductMessage) isMessage()         {}
func (ProductsMessage) isMessage()        {}
