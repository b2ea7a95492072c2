package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/ByLCY/papyrus/diag"
	"github.com/ByLCY/papyrus/renderer"
)

// Report is the JSON summary of a compilation handed to hosts.
type Report struct {
	Stage       Stage              `json:"stage" yaml:"stage"`
	Format      renderer.Format    `json:"format" yaml:"format"`
	PageCount   int                `json:"pageCount" yaml:"pageCount"`
	Pages       []PageReport       `json:"pages" yaml:"pages"`
	Warnings    []DiagnosticReport `json:"warnings" yaml:"warnings"`
	Diagnostics []DiagnosticReport `json:"diagnostics" yaml:"diagnostics"`
}

// PageReport describes one artifact buffer.
type PageReport struct {
	Size   int    `json:"size" yaml:"size"`
	SHA256 string `json:"sha256" yaml:"sha256"`
}

// DiagnosticReport is the serialised form of a diag.Diagnostic.
type DiagnosticReport struct {
	Severity string      `json:"severity" yaml:"severity"`
	Kind     string      `json:"kind" yaml:"kind"`
	Message  string      `json:"message" yaml:"message"`
	Span     *diag.Span  `json:"span,omitempty" yaml:"span,omitempty"`
	Hints    []string    `json:"hints,omitempty" yaml:"hints,omitempty"`
	Trace    []diag.Span `json:"trace,omitempty" yaml:"trace,omitempty"`
}

// Report summarises the result. PageCount is the number of laid out pages;
// Pages lists the artifact buffers.
func (r *Result) Report() Report {
	rep := Report{
		Stage:       r.Stage,
		Format:      r.Format,
		Pages:       []PageReport{},
		Warnings:    Diagnostics(r.Diagnostics.Warnings()),
		Diagnostics: Diagnostics(r.Diagnostics.Errors()),
	}
	if r.Layout != nil {
		rep.PageCount = len(r.Layout.Pages)
	}
	if r.Artifact != nil {
		for _, page := range r.Artifact.Pages {
			sum := sha256.Sum256(page)
			rep.Pages = append(rep.Pages, PageReport{Size: len(page), SHA256: hex.EncodeToString(sum[:])})
		}
	}
	return rep
}

// JSON encodes Report.
func (r *Result) JSON() ([]byte, error) {
	return json.Marshal(r.Report())
}

// Diagnostics converts a list for serialisation. Detached spans are omitted.
func Diagnostics(list diag.List) []DiagnosticReport {
	out := make([]DiagnosticReport, 0, len(list))
	for _, d := range list {
		rep := DiagnosticReport{
			Severity: d.Severity.String(),
			Kind:     diag.KindName(d.Kind),
			Message:  d.Message,
			Hints:    d.Hints,
			Trace:    d.Trace,
		}
		if !d.Span.IsDetached() {
			span := d.Span
			rep.Span = &span
		}
		out = append(out, rep)
	}
	return out
}
