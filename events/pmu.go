// Copyright 2024 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package events

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"
)

// A configWord is one of the perf_event_attr words an encoding can set.
type configWord int

const (
	wordConfig configWord = iota
	wordConfig1
	wordConfig2
	wordPeriod
	numWords
)

// configWords are the words a sysfs format file may target.
var configWords = map[string]configWord{
	"config":  wordConfig,
	"config1": wordConfig1,
	"config2": wordConfig2,
}

// A bitSpan is a run of width bits starting at bit lo.
type bitSpan struct {
	lo, width uint
}

// A pmuField places a parameter value into one config word. The value's low
// bits fill the first span, the next bits the second, and so on.
type pmuField struct {
	name  string
	word  configWord
	spans []bitSpan
}

// wholeWord is the field for a parameter that names a word directly, such as
// "config1=0x12".
func wholeWord(name string, w configWord) pmuField {
	return pmuField{name, w, []bitSpan{{0, 64}}}
}

// apply stores val into f's spans of words.
func (f pmuField) apply(words *[numWords]uint64, val uint64) error {
	rest := val
	var width uint
	for _, sp := range f.spans {
		// A 64-bit shift yields 0, so the mask of a full word is all ones.
		mask := uint64(1)<<sp.width - 1
		words[f.word] = words[f.word]&^(mask<<sp.lo) | (rest&mask)<<sp.lo
		rest >>= sp.width
		width += sp.width
	}
	if rest != 0 {
		return fmt.Errorf("parameter %s=%d not in range 0-%d", f.name, val, uint64(1)<<width-1)
	}
	return nil
}

// parseField parses the contents of a sysfs format file, such as
// "config:0-7" or "config1:0-3,8".
// See https://www.kernel.org/doc/Documentation/ABI/testing/sysfs-bus-event_source-devices-format
func parseField(name, spec string) (pmuField, error) {
	spec = strings.TrimSpace(spec)
	wordName, list, ok := strings.Cut(spec, ":")
	if !ok {
		return pmuField{}, fmt.Errorf("error parsing format %q", spec)
	}
	w, ok := configWords[wordName]
	if !ok {
		return pmuField{}, fmt.Errorf("error parsing format %q: unknown field %s", spec, wordName)
	}
	f := pmuField{name: name, word: w}
	for _, item := range strings.Split(list, ",") {
		loStr, hiStr, isRange := strings.Cut(item, "-")
		if !isRange {
			hiStr = loStr
		}
		lo, err1 := strconv.ParseUint(loStr, 10, 8)
		hi, err2 := strconv.ParseUint(hiStr, 10, 8)
		if err := errors.Join(err1, err2); err != nil {
			return pmuField{}, fmt.Errorf("error parsing format %q: %w", spec, err)
		}
		if hi < lo || hi > 63 {
			return pmuField{}, fmt.Errorf("error parsing format %q: bad bit range %s", spec, item)
		}
		f.spans = append(f.spans, bitSpan{uint(lo), uint(hi - lo + 1)})
	}
	return f, nil
}

// pmuEvent is a named event: a parameter list plus its display scale.
type pmuEvent struct {
	name   string
	params []eventParam
	scale  float64
	unit   string
}

// pmuDesc is the sysfs description of one event source device.
type pmuDesc struct {
	typ    uint32              // perf_event_attr.type
	fields map[string]pmuField // Keyed by format name
	events map[string]pmuEvent // Keyed by event name
}

// field returns the field a parameter sets. The word names are valid on every
// PMU, and "period" sets the sample period.
func (d *pmuDesc) field(param string) (pmuField, bool) {
	if w, ok := configWords[param]; ok {
		return wholeWord(param, w), true
	}
	if param == "period" {
		return wholeWord(param, wordPeriod), true
	}
	f, ok := d.fields[param]
	return f, ok
}

// describePMU reads the type, formats and events of the named PMU.
func (r *Resolver) describePMU(pmu string) (*pmuDesc, error) {
	typ, err := r.readPMUType(pmu)
	if err != nil {
		return nil, err
	}
	d := &pmuDesc{typ: typ, fields: make(map[string]pmuField)}

	formats, err := r.readDir(path.Join(pmu, "format"))
	if err != nil {
		return nil, err
	}
	for name, spec := range formats {
		f, err := parseField(name, spec)
		if err != nil {
			return nil, fmt.Errorf("%w (from %s)", err, path.Join(r.pmuDir, pmu, "format", name))
		}
		d.fields[name] = f
	}

	files, err := r.readDir(path.Join(pmu, "events"))
	if err != nil {
		return nil, err
	}
	if d.events, err = parseEventFiles(files); err != nil {
		return nil, fmt.Errorf("%w (from %s)", err, path.Join(r.pmuDir, pmu, "events"))
	}
	return d, nil
}

func (r *Resolver) readPMUType(pmu string) (uint32, error) {
	data, err := fs.ReadFile(r.pmuFS, path.Join(pmu, "type"))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("unknown PMU %q", pmu)
	} else if err != nil {
		return 0, fmt.Errorf("unknown PMU %q: %w", pmu, err)
	}
	s := strings.TrimSpace(string(data))
	typ, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("error parsing PMU %q type %q: %w", pmu, s, err)
	}
	return uint32(typ), nil
}

// readDir returns the contents of every file in dir, keyed by file name. A
// missing dir reads as empty because format and events are both optional.
func (r *Resolver) readDir(dir string) (map[string]string, error) {
	ents, err := fs.ReadDir(r.pmuFS, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path.Join(r.pmuDir, dir), err)
	}
	files := make(map[string]string, len(ents))
	for _, ent := range ents {
		p := path.Join(dir, ent.Name())
		data, err := fs.ReadFile(r.pmuFS, p)
		if err != nil {
			return nil, fmt.Errorf("error reading %s: %w", path.Join(r.pmuDir, p), err)
		}
		files[ent.Name()] = strings.TrimSpace(string(data))
	}
	return files, nil
}

// parseEventFiles builds events from the files of a PMU's events directory.
// NAME holds the encoding; the optional NAME.scale and NAME.unit hold its
// display conversion. Other suffixes (.snapshot, .per-pkg) are ignored.
func parseEventFiles(files map[string]string) (map[string]pmuEvent, error) {
	evs := make(map[string]pmuEvent)
	for name, enc := range files {
		if strings.Contains(name, ".") {
			continue
		}
		params, err := parseParamList(enc)
		if err != nil {
			return nil, err
		}
		ev := pmuEvent{name: name, params: params, scale: 1.0, unit: files[name+".unit"]}
		if s, ok := files[name+".scale"]; ok {
			if ev.scale, err = strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("event %s: bad scale: %w", name, err)
			}
		}
		evs[name] = ev
	}
	return evs, nil
}
