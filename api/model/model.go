/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package model

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/blnkfinance/intake/model"
)

const (
	ProcessNone  = ""
	ProcessSync  = "sync"
	ProcessAsync = "async"

	maxListLimit = 100
)

// UploadImport is the form that accompanies an uploaded file.
type UploadImport struct {
	Kind    string `form:"kind"`
	Process string `form:"process"`
}

// WaitImport tunes how long GET /imports/:id/wait polls. Zero values fall
// back to the configured poll settings.
type WaitImport struct {
	IntervalMs int `form:"interval_ms"`
	TimeoutSec int `form:"timeout_sec"`
}

// ListImports filters GET /imports.
type ListImports struct {
	Kind   string `form:"kind"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

func kindRule() validation.Rule {
	kinds := make([]interface{}, 0, len(model.ImportKinds))
	for _, k := range model.ImportKinds {
		kinds = append(kinds, string(k))
	}
	return validation.In(kinds...).Error("kind must be one of payments, traffic_fines, balances, customers")
}

func (u *UploadImport) ValidateUploadImport() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Kind, validation.Required, kindRule()),
		validation.Field(&u.Process, validation.In(ProcessSync, ProcessAsync).Error("process must be sync or async")),
	)
}

func (w *WaitImport) ValidateWaitImport() error {
	return validation.ValidateStruct(w,
		validation.Field(&w.IntervalMs, validation.Min(0)),
		validation.Field(&w.TimeoutSec, validation.Min(0), validation.Max(3600)),
	)
}

func (l *ListImports) ValidateListImports() error {
	return validation.ValidateStruct(l,
		validation.Field(&l.Kind, kindRule()),
		validation.Field(&l.Limit, validation.Min(0), validation.Max(maxListLimit)),
		validation.Field(&l.Offset, validation.Min(0)),
	)
}

func (u *UploadImport) ImportKind() model.ImportKind {
	return model.ImportKind(u.Kind)
}

func (l *ListImports) ImportKind() model.ImportKind {
	return model.ImportKind(l.Kind)
}

// Interval returns the requested poll interval or fallback.
func (w *WaitImport) Interval(fallback time.Duration) time.Duration {
	if w.IntervalMs > 0 {
		return time.Duration(w.IntervalMs) * time.Millisecond
	}
	return fallback
}

// Timeout returns the requested poll timeout or fallback.
func (w *WaitImport) Timeout(fallback time.Duration) time.Duration {
	if w.TimeoutSec > 0 {
		return time.Duration(w.TimeoutSec) * time.Second
	}
	return fallback
}
