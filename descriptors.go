package qudicore

import (
	"fmt"
	"reflect"
	"sync"

	"gopkg.in/yaml.v3"
)

// descriptorFieldCache caches, per concrete module type, which struct fields
// hold OptionBinder/StatusBinder/ConnectorBinder values. This stands in for
// the "static map (declared-name -> descriptor) attached to each class"
// that spec §9 asks for: qudi's Python metaclass builds that map once at
// class-definition time, so this cache builds it once per reflect.Type on
// first use instead.
var descriptorFieldCache sync.Map // reflect.Type -> *descriptorLayout

type descriptorLayout struct {
	optionFields    []int
	statusFields    []int
	connectorFields []int
}

func layoutFor(v reflect.Value) *descriptorLayout {
	t := v.Type()
	if cached, ok := descriptorFieldCache.Load(t); ok {
		return cached.(*descriptorLayout)
	}

	optionBinderType := reflect.TypeOf((*OptionBinder)(nil)).Elem()
	statusBinderType := reflect.TypeOf((*StatusBinder)(nil)).Elem()
	connectorBinderType := reflect.TypeOf((*ConnectorBinder)(nil)).Elem()

	layout := &descriptorLayout{}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		switch {
		case field.Type.Implements(optionBinderType):
			layout.optionFields = append(layout.optionFields, i)
		case field.Type.Implements(statusBinderType):
			layout.statusFields = append(layout.statusFields, i)
		case field.Type.Implements(connectorBinderType):
			layout.connectorFields = append(layout.connectorFields, i)
		}
	}
	descriptorFieldCache.Store(t, layout)
	return layout
}

// moduleOptions returns every OptionBinder field of the given module
// instance (a pointer to a struct embedding Base). Fields must already hold
// a non-nil *Option[T] value constructed by the module's own constructor;
// nil descriptor fields are skipped since they indicate a module that
// declared a field but never initialized it.
func moduleOptions(module any) map[string]OptionBinder {
	v := reflect.ValueOf(module)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	layout := layoutFor(v)
	out := make(map[string]OptionBinder, len(layout.optionFields))
	for _, idx := range layout.optionFields {
		fv := v.Field(idx)
		if fv.IsNil() {
			continue
		}
		b := fv.Interface().(OptionBinder)
		out[b.optionName()] = b
	}
	return out
}

func moduleStatuses(module any) map[string]StatusBinder {
	v := reflect.ValueOf(module)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	layout := layoutFor(v)
	out := make(map[string]StatusBinder, len(layout.statusFields))
	for _, idx := range layout.statusFields {
		fv := v.Field(idx)
		if fv.IsNil() {
			continue
		}
		b := fv.Interface().(StatusBinder)
		out[b.statusName()] = b
	}
	return out
}

func moduleConnectors(module any) map[string]ConnectorBinder {
	v := reflect.ValueOf(module)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	layout := layoutFor(v)
	out := make(map[string]ConnectorBinder, len(layout.connectorFields))
	for _, idx := range layout.connectorFields {
		fv := v.Field(idx)
		if fv.IsNil() {
			continue
		}
		b := fv.Interface().(ConnectorBinder)
		out[b.connectorName()] = b
	}
	return out
}

// applyOptions materializes every OptionBinder field on module from the
// module's config `options:` map, per spec §4.2 ("option values are looked
// up in the module's config options at construction"). A key absent from
// the map is left at its declared default; a required option absent from
// the map fails with ErrOptionMissing rather than silently staying at T's
// zero value.
func applyOptions(name string, module any, options map[string]any) error {
	for key, binder := range moduleOptions(module) {
		raw, ok := options[key]
		if !ok {
			if binder.required() && !binder.hasValue() {
				return fmt.Errorf("%s.%s: %w", name, key, ErrOptionMissing)
			}
			continue
		}
		if err := binder.setRaw(raw); err != nil {
			return err
		}
	}
	return nil
}

// remarshalYAML round-trips raw (a plain any tree produced by yaml.v3
// decoding into `any`) through yaml.Marshal/Unmarshal into a concrete T.
// Used when a Status[T]'s T is a struct or slice type that a direct type
// assertion from the decoded map[string]any/[]any shape can't satisfy.
func remarshalYAML[T any](raw any) (T, error) {
	var out T
	bs, err := yaml.Marshal(raw)
	if err != nil {
		return out, err
	}
	if err := yaml.Unmarshal(bs, &out); err != nil {
		return out, err
	}
	return out, nil
}
