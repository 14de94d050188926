// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package classify

// This file contains functions related to Kubernetes (k8s) support for the
// policy configuration.  When deployed inside a cluster the advisor can
// watch a named ConfigMap for the policy document instead of, or alongside,
// a mounted file.
//
// The Eric Chiang client fork is used here for the same reason the rest of
// the platform uses it, a single dependency instead of the official client
// dependency tree.

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/karlmutch/k8s"
	core "github.com/karlmutch/k8s/apis/core/v1"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
	"github.com/karlmutch/hashstructure"
	"github.com/lthibault/jitterbug"
)

var (
	k8sClient  *k8s.Client
	k8sInitErr kv.Error

	protect sync.Mutex
)

func init() {
	protect.Lock()
	defer protect.Unlock()

	client, errGo := k8s.NewInClusterClient()
	if errGo != nil {
		k8sInitErr = kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
		return
	}
	k8sClient = client
}

// IsAliveK8s is used to extract any errors in the state of the k8s client
// api connection.
//
// A nil returned indicates k8s is working and in use, otherwise a
// descriptive error is returned.
//
func IsAliveK8s() (err kv.Error) {
	protect.Lock()
	defer protect.Unlock()
	if k8sInitErr != nil {
		return k8sInitErr
	}
	if k8sClient == nil {
		return kv.NewError("Kubernetes uninitialized or no cluster present").With("stack", stack.Trace().TrimRuntime())
	}
	return nil
}

// ConfigMapPolicy pulls the policy document from a named config map.  The
// map carries the document under a key named for its format, policy.json,
// policy.yaml, or policy.toml, the first present winning in that order.
//
// The map is an optional source so a missing map is reported as a nil
// policy rather than an error.
//
func ConfigMapPolicy(ctx context.Context, namespace string, name string) (policy *Policy, err kv.Error) {
	if err = IsAliveK8s(); err != nil {
		return nil, err
	}
	cfg := &core.ConfigMap{}

	if errGo := k8sClient.Get(ctx, namespace, name, cfg); errGo != nil {
		if apiErr, ok := errGo.(*k8s.APIError); ok && apiErr.Code == http.StatusNotFound {
			return nil, nil
		}
		return nil, kv.Wrap(errGo).With("namespace", namespace).With("name", name).With("stack", stack.Trace().TrimRuntime())
	}

	for _, key := range []string{"policy.json", "policy.yaml", "policy.yml", "policy.toml"} {
		doc, isPresent := cfg.Data[key]
		if !isPresent {
			continue
		}
		if policy, err = decodePolicy(key[len("policy"):], []byte(doc)); err != nil {
			return nil, err.With("namespace", namespace, "name", name, "key", key)
		}
		return policy, nil
	}
	return nil, kv.NewError("config map presents no policy document").
		With("namespace", namespace, "name", name).
		With("stack", stack.Trace().TrimRuntime())
}

func listenerK8s(ctx context.Context, namespace string, name string, broadcast *Listeners, errC chan<- kv.Error) {

	// Check for a new policy on the k8s ConfigMap, will update every 30
	// seconds but will only propagate documents when they change
	t := jitterbug.New(time.Second*30, &jitterbug.Norm{Stdev: time.Second * 3})
	defer t.Stop()

	lastHash := uint64(0)

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			policy, err := ConfigMapPolicy(ctx, namespace, name)
			if err != nil {
				select {
				case errC <- err:
				case <-time.After(2 * time.Second):
				}
				continue
			}
			// ConfigMap not present yet, which is OK as the map is an optional source
			if policy == nil {
				continue
			}

			hash, errGo := hashstructure.Hash(policy, nil)
			if errGo != nil {
				select {
				case errC <- kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime()):
				case <-time.After(2 * time.Second):
				}
				continue
			}
			if hash == lastHash {
				continue
			}

			select {
			case broadcast.SendingC <- policy:
				lastHash = hash
			case <-time.After(time.Second):
				continue
			}
		}
	}
}

// ListenK8sPolicy will register a watcher against a named ConfigMap in k8s
// and will relay changed policy documents to the broadcaster
func ListenK8sPolicy(ctx context.Context, namespace string, name string, broadcast *Listeners, errC chan<- kv.Error) {
	go listenerK8s(ctx, namespace, name, broadcast, errC)
}
