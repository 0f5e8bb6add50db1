// Package installer implements the provisioning and update pipelines that
// turn a built specification (internal/specbuilder) into a sealed,
// bootable device or VM image, grounded on
// original_source/lib/Installer.py's Installer/DeviceInstaller/
// ImageInstaller/DeviceFormatter and Updater/DeviceUpdater/ImageUpdater
// class hierarchies.
package installer

import (
	"fmt"

	"github.com/insecakey/inseca/internal/insecaerr"
	"github.com/insecakey/inseca/internal/specbuilder"
)

// PartitionID names one of the fixed roles a provisioned device's
// partitions play, per Live.py's partid_* constants.
type PartitionID string

const (
	PartIDDummy    PartitionID = "dummy"
	PartIDEFI      PartitionID = "EFI"
	PartIDLive     PartitionID = "live"
	PartIDInternal PartitionID = "internal"
	PartIDData     PartitionID = "data"
)

// ParamsSet merges a configuration's own parameters with every component's
// userdata parameters into one namespace to validate against, mirroring
// Installer.py's ParamsSet (the "_components" sub-map holds per-component
// requirements, loaded from a component's userdata spec file).
type ParamsSet struct {
	confParams      map[string]specbuilder.ParamSpec
	componentParams map[string]map[string]specbuilder.ParamSpec

	values map[string]any
}

// NewParamsSet builds the consolidated parameter requirements for an
// install or format configuration. componentParams is nil for a
// FormatConfig, which has no live Linux userdata to satisfy.
func NewParamsSet(confParams map[string]specbuilder.ParamSpec, componentParams map[string]map[string]specbuilder.ParamSpec) *ParamsSet {
	return &ParamsSet{confParams: confParams, componentParams: componentParams}
}

// Validate checks that values provides every parameter NewParamsSet
// requires, resolving "file" parameters via resolveFile when component is
// non-empty, per ParamsSet.validate's call into get_userdata_file_real_path.
func (p *ParamsSet) Validate(values map[string]any, fileExists func(string) bool, resolveFile func(component, param string, raw any) (any, error)) error {
	for name, spec := range p.confParams {
		raw, ok := values[name]
		if !ok {
			return insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("missing value for parameter %q", name))
		}
		if _, err := specbuilder.ValidateParamValue(name, spec, raw, fileExists); err != nil {
			return err
		}
	}

	componentsRaw, _ := values["_components"].(map[string]any)
	for component, params := range p.componentParams {
		entry, ok := componentsRaw[component].(map[string]any)
		if !ok {
			return insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("missing user data for component %q", component))
		}
		for name, spec := range params {
			raw, ok := entry[name]
			if !ok {
				return insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("missing value for parameter %q of component %q", name, component))
			}
			if spec.Type == specbuilder.ParamFile && resolveFile != nil {
				resolved, err := resolveFile(component, name, raw)
				if err != nil {
					return err
				}
				raw = resolved
				entry[name] = resolved
			}
			if _, err := specbuilder.ValidateParamValue(name, spec, raw, fileExists); err != nil {
				return err
			}
		}
	}

	p.values = values
	return nil
}

// Value returns the validated value for param, optionally scoped to a
// component's userdata, per ParamsSet.get_value_for_param.
func (p *ParamsSet) Value(component, param string) (any, error) {
	if p.values == nil {
		return nil, insecaerr.New(insecaerr.KindInvalidConfig, "parameter set has not been validated yet")
	}
	if component == "" {
		v, ok := p.values[param]
		if !ok {
			return nil, insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("undefined parameter %q", param))
		}
		return v, nil
	}
	components, _ := p.values["_components"].(map[string]any)
	entry, ok := components[component].(map[string]any)
	if !ok {
		return nil, insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("unknown component %q", component))
	}
	v, ok := entry[param]
	if !ok {
		return nil, insecaerr.New(insecaerr.KindInvalidParameter, fmt.Sprintf("undefined parameter %q", param))
	}
	return v, nil
}

// Components lists the components this set has userdata requirements for,
// mirroring iteration over params["_components"] in _install_userdata.
// The order is that of Go map iteration and is not defined.
func (p *ParamsSet) Components() []string {
	names := make([]string, 0, len(p.componentParams))
	for name := range p.componentParams {
		names = append(names, name)
	}
	return names
}
