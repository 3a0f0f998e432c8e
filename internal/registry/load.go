package registry

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/delta10/wms-server/internal/ogc"
	"github.com/delta10/wms-server/internal/render"
)

// LoadMap ingests every layer of desc. Each layer is copied, so desc is not
// modified and may be discarded afterwards.
func (r *Registry) LoadMap(desc *render.MapDescription, overlay Overlay) error {
	if err := r.mutable(); err != nil {
		return err
	}
	if desc == nil {
		return ogc.NewConfigurationError("no map description to load")
	}
	if desc.Background != nil {
		bg := *desc.Background
		r.background = &bg
	}
	r.bufferSize = desc.BufferSize

	for _, src := range desc.Layers {
		if err := r.loadLayer(desc, src, overlay); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) loadLayer(desc *render.MapDescription, src render.Layer, overlay Overlay) error {
	override := overlay.Layers[src.Name]
	wmsSRS := override.WMSSRS
	if wmsSRS == "" {
		wmsSRS = overlay.DefaultWMSSRS
	}

	base := Layer{
		Layer:    src.Clone(),
		Title:    override.Title,
		Abstract: override.Abstract,
		WMSSRS:   wmsSRS,
	}

	styles := make([]render.Style, 0, len(src.Styles))
	for _, name := range src.Styles {
		s, ok := desc.FindStyle(name)
		if !ok {
			return ogc.NewConfigurationError("layer %q refers to style %q which is not defined in the map", src.Name, name)
		}
		styles = append(styles, s)
	}

	switch len(styles) {
	case 0:
		return ogc.NewConfigurationError("cannot register layer %q without a style", src.Name)

	case 1:
		styleName := src.Styles[0]
		if err := r.loadMetaLayer(base, styles[0]); err != nil {
			return err
		}
		if !r.styleExists(styleName) {
			if err := r.RegisterStyle(styleName, styles[0]); err != nil {
				return err
			}
		}
		return r.RegisterLayer(base, styleName, styleName)

	default:
		for i, name := range src.Styles {
			if err := r.loadMetaLayer(base, styles[i]); err != nil {
				return err
			}
			if !r.styleExists(name) {
				if err := r.RegisterStyle(name, styles[i]); err != nil {
					return err
				}
			}
			if name == DefaultStyleName {
				r.logger.Warn("multi-style layer has a style named \"default\"; it is hidden by the generated default style combining all styles",
					zap.String("layer", src.Name))
			}
		}
		aggregates := src.Name + "_aggregates"
		if err := r.RegisterAggregateStyle(aggregates, src.Styles); err != nil {
			return err
		}
		layer := base
		layer.AggregatesName = aggregates
		return r.RegisterLayer(layer, aggregates, src.Styles...)
	}
}

// loadMetaLayer synthesizes a meta layer when style has named rules.
func (r *Registry) loadMetaLayer(base Layer, style render.Style) error {
	meta, ruleNames, ok := extractNamedRules(style)
	if !ok {
		return nil
	}

	prefix := base.Abstract
	if prefix == "" {
		prefix = base.Name
	}
	name := metaLayerName(prefix, ruleNames)
	if r.layerExists(name) {
		unique := name
		for n := 2; r.layerExists(unique); n++ {
			unique = fmt.Sprintf("%s_%d", name, n)
		}
		r.logger.Warn("meta layer name already in use, registering it under a suffixed name",
			zap.String("layer", base.Name),
			zap.String("name", name),
			zap.String("registered", unique))
		name = unique
	}

	meta.Name = name
	r.metaStyles[base.Name+"_meta"] = meta
	r.metaStyles[name] = meta

	l := base.clone()
	l.Name = name
	l.Styles = nil
	l.DefaultStyle = name
	l.ExtraStyles = nil
	l.MetaStyle = name
	if err := r.project(&l); err != nil {
		return err
	}
	r.metaLayers[name] = &l
	r.ordered = append(r.ordered, &l)
	return nil
}

// extractNamedRules collects every rule of style that carries a name. The
// returned names are unique and in first appearance order. It reports false
// when there are no named rules.
func extractNamedRules(style render.Style) (render.Style, []string, bool) {
	var (
		meta  render.Style
		names []string
		seen  = make(map[string]struct{})
	)
	for _, rule := range style.Clone().Rules {
		if rule.Name == "" {
			continue
		}
		meta.Rules = append(meta.Rules, rule)
		if _, dup := seen[rule.Name]; !dup {
			seen[rule.Name] = struct{}{}
			names = append(names, rule.Name)
		}
	}
	return meta, names, len(names) > 0
}
