package web

import "embed"

// TemplateFS holds the HTML templates, split into layout, pages and partials.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS holds the stylesheet and page script.
//
//go:embed static/*
var StaticFS embed.FS
