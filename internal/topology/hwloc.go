package topology

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"landscaper/internal/domain"
)

// hwlocTopology is the root element of an hwloc XML export
type hwlocTopology struct {
	XMLName xml.Name      `xml:"topology"`
	Objects []hwlocObject `xml:"object"`
}

// hwlocObject is one <object> element. Every XML attribute, type included,
// lands in Attrs.
type hwlocObject struct {
	Attrs    []xml.Attr    `xml:",any,attr"`
	Infos    []hwlocInfo   `xml:"info"`
	Children []hwlocObject `xml:"object"`
}

type hwlocInfo struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// attr returns the raw value of an XML attribute.
func (o *hwlocObject) attr(name string) (string, bool) {
	for _, a := range o.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func parseHWLoc(r io.Reader) (*hwlocTopology, error) {
	var topo hwlocTopology
	if err := xml.NewDecoder(r).Decode(&topo); err != nil {
		return nil, fmt.Errorf("%w: hwloc document: %v", domain.ErrMalformedInput, err)
	}
	if len(topo.Objects) == 0 {
		return nil, fmt.Errorf("%w: hwloc document has no objects", domain.ErrMalformedInput)
	}
	for i := range topo.Objects {
		if err := validate(&topo.Objects[i]); err != nil {
			return nil, err
		}
	}
	return &topo, nil
}

func validate(o *hwlocObject) error {
	if t, ok := o.attr("type"); !ok || strings.TrimSpace(t) == "" {
		return fmt.Errorf("%w: hwloc object without a type", domain.ErrMalformedInput)
	}
	for i := range o.Children {
		if err := validate(&o.Children[i]); err != nil {
			return err
		}
	}
	return nil
}

// Sanitize lowercases s, trims it and replaces '-' with '_'. With
// keepSpaces false, spaces become '_' too.
func Sanitize(s string, keepSpaces bool) string {
	out := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	if !keepSpaces {
		out = strings.ReplaceAll(out, " ", "_")
	}
	return out
}

// osdevCategories maps hwloc osdev_type codes to categories.
var osdevCategories = map[string]domain.Category{
	"0": domain.CategoryStorage, // block
	"1": domain.CategoryCompute, // gpu
	"2": domain.CategoryNetwork, // network
	"3": domain.CategoryNetwork, // openfabrics
	"4": domain.CategoryCompute, // dma
	"5": domain.CategoryCompute, // coproc
}

func category(o *hwlocObject) domain.Category {
	code, ok := o.attr("osdev_type")
	if !ok {
		return domain.CategoryCompute
	}
	if c, ok := osdevCategories[strings.TrimSpace(code)]; ok {
		return c
	}
	return domain.CategoryCompute
}
