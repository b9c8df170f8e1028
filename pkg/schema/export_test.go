package schema_test

import (
	"errors"
	"testing"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-record/pkg/field"
	"github.com/goliatone/go-record/pkg/registry"
	"github.com/goliatone/go-record/pkg/schema"
)

type dimensions struct {
	Width  float64 `record:"width"`
	Height float64 `record:"height"`
}

type bundle struct {
	Name  string  `record:"name"`
	Items []combo `record:"items"`
}

type combo struct {
	Base *bundle `record:"base,optional"`
}

type product struct {
	SKU       string     `record:"sku"`
	Name      string     `record:"name,sanitize"`
	Stock     uint16     `record:"stock,default=0"`
	Price     float64    `record:"price"`
	Active    *bool      `record:"active"`
	AddedOn   time.Time  `record:"added_on,format=2006-01-02"`
	UpdatedAt time.Time  `record:"updated_at,format=rfc3339"`
	Secret    string     `record:"api_secret,exclude"`
	Dims      dimensions `record:"dimensions"`
	Tags      []string   `record:"tags"`
	Related   []any      `record:"related,element=product"`
}

func newProductRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New()
	registry.MustAdd[product](reg)
	return reg
}

func typeOf(t *testing.T, ref *openapi3.SchemaRef) string {
	t.Helper()
	if ref == nil || ref.Value == nil || ref.Value.Type == nil {
		t.Fatal("schema ref has no concrete type")
	}
	return ref.Value.Type.Slice()[0]
}

func TestFor(t *testing.T) {
	reg := newProductRegistry(t)

	out, err := schema.For[product](schema.WithRegistry(reg))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if got := out.Type.Slice()[0]; got != "object" {
		t.Fatalf("root type: %q", got)
	}

	wantRequired := []string{"sku", "name", "price", "added_on", "updated_at", "api_secret", "dimensions", "tags", "related"}
	if diff := cmp.Diff(wantRequired, out.Required); diff != "" {
		t.Fatalf("required mismatch (-want +got):\n%s", diff)
	}

	if got := typeOf(t, out.Properties["sku"]); got != "string" {
		t.Fatalf("sku type: %q", got)
	}
	if got := typeOf(t, out.Properties["price"]); got != "number" {
		t.Fatalf("price type: %q", got)
	}
	if out.Properties["price"].Value.Format != "double" {
		t.Fatalf("price format: %q", out.Properties["price"].Value.Format)
	}
}

func TestFor_IntegerBounds(t *testing.T) {
	reg := newProductRegistry(t)

	out, err := schema.For[product](schema.WithRegistry(reg))
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	stock := out.Properties["stock"].Value
	if got := stock.Type.Slice()[0]; got != "integer" {
		t.Fatalf("stock type: %q", got)
	}
	if stock.Format != "int32" {
		t.Fatalf("stock format: %q", stock.Format)
	}
	if stock.Min == nil || *stock.Min != 0 {
		t.Fatalf("unsigned fields should carry a zero minimum: %+v", stock.Min)
	}
	if stock.Default != uint16(0) {
		t.Fatalf("stock default: %#v", stock.Default)
	}
}

func TestFor_FieldDecorations(t *testing.T) {
	reg := newProductRegistry(t)

	out, err := schema.For[product](schema.WithRegistry(reg))
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	if active := out.Properties["active"].Value; !active.Nullable {
		t.Fatal("pointer fields should export as nullable")
	}
	if secret := out.Properties["api_secret"].Value; !secret.WriteOnly {
		t.Fatal("excluded fields should export as writeOnly")
	}
	if name := out.Properties["name"].Value; name.Extensions[schema.SanitizeExtension] != "strict" {
		t.Fatalf("sanitize extension: %v", name.Extensions)
	}
}

func TestFor_TimeFormats(t *testing.T) {
	reg := newProductRegistry(t)

	out, err := schema.For[product](schema.WithRegistry(reg))
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	added := out.Properties["added_on"].Value
	if added.Format != "date" {
		t.Fatalf("date-only layout format: %q", added.Format)
	}
	if added.Extensions[schema.FormatExtension] != "2006-01-02" {
		t.Fatalf("format extension: %v", added.Extensions)
	}

	updated := out.Properties["updated_at"].Value
	if updated.Format != "date-time" {
		t.Fatalf("timestamp layout format: %q", updated.Format)
	}
	if updated.Extensions[schema.FormatExtension] != time.RFC3339 {
		t.Fatalf("format extension: %v", updated.Extensions)
	}
}

func TestFor_NestedRecords(t *testing.T) {
	reg := newProductRegistry(t)

	out, err := schema.For[product](schema.WithRegistry(reg))
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	// dimensions is unregistered, so it inlines.
	dims := out.Properties["dimensions"]
	if dims.Ref != "" {
		t.Fatalf("unregistered record should inline, got ref %q", dims.Ref)
	}
	if got := typeOf(t, dims.Value.Properties["width"]); got != "number" {
		t.Fatalf("inline property type: %q", got)
	}

	// The declared element type references the registered component,
	// keeping the self-referential list finite.
	related := out.Properties["related"].Value
	if got := related.Type.Slice()[0]; got != "array" {
		t.Fatalf("related type: %q", got)
	}
	if related.Items.Ref != "#/components/schemas/product" {
		t.Fatalf("related items ref: %q", related.Items.Ref)
	}

	tags := out.Properties["tags"].Value
	if got := typeOf(t, tags.Items); got != "string" {
		t.Fatalf("tags items: %q", got)
	}
}

func TestFor_RegisteredRecordBecomesRef(t *testing.T) {
	reg := newProductRegistry(t)
	registry.MustAdd[dimensions](reg)

	out, err := schema.For[product](schema.WithRegistry(reg))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if got := out.Properties["dimensions"].Ref; got != "#/components/schemas/dimensions" {
		t.Fatalf("registered record ref: %q", got)
	}
}

func TestFor_DecoratedRefWrapsInAllOf(t *testing.T) {
	type person struct {
		Name string `record:"name"`
	}
	type team struct {
		Lead *person `record:"lead"`
	}

	reg := registry.New()
	registry.MustAdd[person](reg)

	out, err := schema.For[team](schema.WithRegistry(reg))
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	lead := out.Properties["lead"]
	if lead.Ref != "" {
		t.Fatal("decorations beside a bare $ref would be dropped")
	}
	if len(lead.Value.AllOf) != 1 || lead.Value.AllOf[0].Ref != "#/components/schemas/person" {
		t.Fatalf("allOf wrapper: %+v", lead.Value.AllOf)
	}
	if !lead.Value.Nullable {
		t.Fatal("nullable lost in wrapping")
	}
}

func TestComponents(t *testing.T) {
	reg := newProductRegistry(t)
	registry.MustAdd[dimensions](reg)

	components, err := schema.Components(reg)
	if err != nil {
		t.Fatalf("components: %v", err)
	}
	if len(components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(components))
	}

	prod := components["product"]
	if prod == nil || prod.Value == nil {
		t.Fatal("product component missing")
	}
	if got := prod.Value.Properties["dimensions"].Ref; got != "#/components/schemas/dimensions" {
		t.Fatalf("cross reference: %q", got)
	}

	if _, err := schema.Components(registry.New()); err == nil {
		t.Fatal("empty registry should fail")
	}
}

func TestForType_InlineCycle(t *testing.T) {
	type node struct {
		Label string `record:"label"`
		Next  *node  `record:"next,optional"`
	}

	_, err := schema.For[node](schema.WithRegistry(registry.New()))
	var invalid *field.InvalidMetadataError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidMetadataError, got %v", err)
	}
	if invalid.Type != "node" {
		t.Fatalf("cycle error names %q", invalid.Type)
	}

	// Registering the type gives the cycle a component to reference.
	reg := registry.New()
	registry.MustAdd[node](reg)
	out, err := schema.For[node](schema.WithRegistry(reg))
	if err != nil {
		t.Fatalf("registered recursive type: %v", err)
	}
	next := out.Properties["next"].Value
	if len(next.AllOf) != 1 || next.AllOf[0].Ref != "#/components/schemas/node" {
		t.Fatalf("recursion should become a reference: %+v", next)
	}
}

func TestForType_MutualInlineCycle(t *testing.T) {
	_, err := schema.For[bundle](schema.WithRegistry(registry.New()))
	var invalid *field.InvalidMetadataError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidMetadataError, got %v", err)
	}
	if invalid.Type != "bundle" {
		t.Fatalf("cycle error names %q", invalid.Type)
	}
}

func TestForType_Failures(t *testing.T) {
	type badElement struct {
		Items []any `record:"items,element=Ghost"`
	}

	_, err := schema.For[badElement](schema.WithRegistry(registry.New()))
	var invalid *field.InvalidMetadataError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidMetadataError, got %v", err)
	}

	type badTag struct {
		When time.Time `record:"when"`
	}
	if _, err := schema.For[badTag](schema.WithRegistry(registry.New())); err == nil {
		t.Fatal("metadata failure should propagate")
	}
}
