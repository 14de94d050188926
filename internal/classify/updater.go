// Copyright 2020-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package classify

// This file contains the implementation of a watcher for the classification
// policy file.  The watcher follows the norms set down by Kubernetes
// ConfigMap based mounts, the watched location can appear after startup and
// files within it are replaced atomically via renames.

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

// StartPolicyUpdater is used to initiate a watcher on the directory holding
// the policy document, publishing reloaded policies to the broadcaster
//
func StartPolicyUpdater(ctx context.Context, fn string, broadcast *Listeners, errorC chan kv.Error) (err kv.Error) {
	if len(fn) == 0 {
		return kv.NewError("policy file for dynamic configuration not activated").With("stack", stack.Trace().TrimRuntime())
	}

	watcher, errGo := fsnotify.NewWatcher()
	if errGo != nil {
		return kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	go policyUpdaterRun(ctx, watcher, fn, broadcast, errorC)

	return nil
}

// policySendError suppresses duplicates of the same error occurring within
// short periods of time
func policySendError(err kv.Error, errorC chan kv.Error, lastError kv.Error, repeatTime time.Time) (rLastError kv.Error, rRepeatTime time.Time) {
	if err.Error() == lastError.Error() {
		if repeatTime.After(time.Now()) {
			return err, repeatTime
		}
	}
	select {
	case errorC <- err:
	default:
	}
	return err, time.Now().Add(10 * time.Minute)
}

// policyUpdaterAdd keeps trying to add the watch for the directory that
// holds the policy document until it exists or the server terminates
func policyUpdaterAdd(ctx context.Context, watcher *fsnotify.Watcher, dir string, errorC chan kv.Error) {

	refresh := time.NewTicker(10 * time.Second)
	defer refresh.Stop()

	lastError := kv.NewError("")
	repeatError := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-refresh.C:
			info, errGo := os.Stat(dir)
			if errGo != nil {
				err := kv.Wrap(errGo).With("dir", dir).With("stack", stack.Trace().TrimRuntime())
				lastError, repeatError = policySendError(err, errorC, lastError, repeatError)
				continue
			}
			if !info.IsDir() {
				err := kv.NewError("watched location exists but is not a directory").With("dir", dir).With("stack", stack.Trace().TrimRuntime())
				lastError, repeatError = policySendError(err, errorC, lastError, repeatError)
				continue
			}
			if errGo = watcher.Add(dir); errGo == nil {
				return
			}
			err := kv.Wrap(errGo).With("dir", dir).With("stack", stack.Trace().TrimRuntime())
			lastError, repeatError = policySendError(err, errorC, lastError, repeatError)
		}
	}
}

func policyUpdaterRun(ctx context.Context, watcher *fsnotify.Watcher, fn string, broadcast *Listeners, errorC chan kv.Error) {
	defer watcher.Close()

	dir := filepath.Dir(fn)
	base := filepath.Base(fn)

	go policyUpdaterAdd(ctx, watcher, dir, errorC)

	lastError := kv.NewError("")
	repeatError := time.Now()

	// If the file is already present publish it before waiting on events
	if _, errGo := os.Stat(fn); errGo == nil {
		if policy, err := LoadPolicy(fn); err != nil {
			lastError, repeatError = policySendError(err, errorC, lastError, repeatError)
		} else {
			broadcast.SendingC <- policy
		}
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			// ConfigMap style mounts update via renames so creates matter
			// every bit as much as writes
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			policy, err := LoadPolicy(fn)
			if err != nil {
				lastError, repeatError = policySendError(err, errorC, lastError, repeatError)
				continue
			}
			broadcast.SendingC <- policy
		case errGo, ok := <-watcher.Errors:
			if !ok {
				return
			}
			err := kv.Wrap(errGo).With("file", fn).With("stack", stack.Trace().TrimRuntime())
			lastError, repeatError = policySendError(err, errorC, lastError, repeatError)
		case <-ctx.Done():
			return
		}
	}
}
