/*
Copyright 2026 The Conductor Authors.

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

package decisionchannel

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/conductorhq/conductor/internal/apperrors"
)

// answerDrop is the shape a human (or a script fronting some other
// tool) writes into File's drop directory: one JSON file per answer.
type answerDrop struct {
	DecisionID string `json:"decision_id"`
	Answer     string `json:"answer"`
	Answerer   string `json:"answerer"`
}

// File watches a directory for dropped answer files using fsnotify and
// forwards each one to Answerer.Answer. It is the simplest concrete
// DecisionChannel: no external service, just a directory a human or a
// script can write into.
type File struct {
	dir      string
	answerer Answerer
	logger   *zap.Logger
}

var _ Channel = (*File)(nil)

func NewFile(dir string, answerer Answerer, logger *zap.Logger) *File {
	return &File{dir: dir, answerer: answerer, logger: logger}
}

func (f *File) Run(ctx context.Context) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return apperrors.Wrapf(err, apperrors.KindExternal, "create decision drop dir %s", f.dir)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return apperrors.Wrap(err, apperrors.KindExternal, "create fsnotify watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(f.dir); err != nil {
		return apperrors.Wrapf(err, apperrors.KindExternal, "watch decision drop dir %s", f.dir)
	}

	// Files already present when the watcher starts (e.g. dropped while
	// the orchestrator was down) are not re-delivered by fsnotify.
	f.scanExisting()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			f.consume(ev.Name)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if f.logger != nil {
				f.logger.Warn("decision file watcher error", zap.Error(werr))
			}
		}
	}
}

func (f *File) scanExisting() {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		f.consume(filepath.Join(f.dir, e.Name()))
	}
}

func (f *File) consume(path string) {
	if filepath.Ext(path) != ".json" {
		return
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var drop answerDrop
	if err := json.Unmarshal(raw, &drop); err != nil {
		if f.logger != nil {
			f.logger.Warn("malformed decision answer drop", zap.String("path", path), zap.Error(err))
		}
		return
	}

	if err := f.answerer.Answer(drop.DecisionID, drop.Answer, drop.Answerer); err != nil {
		if f.logger != nil {
			f.logger.Warn("decision answer rejected", zap.String("decision", drop.DecisionID), zap.Error(err))
		}
	}
	_ = os.Remove(path)
}
