// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package vault

// This file contains the implementation of a Vault KV v2 reference used to
// resolve the AWS key material the queue catalog accessors authenticate
// with.  References travel inside submission and deployment documents so
// that no environment carries long lived keys in its own configuration.

import (
	"context"
	"encoding/json"
	"flag"

	vault "github.com/hashicorp/vault/api"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

var (
	vaultToken = flag.String("vault-token", "", "Token used when resolving Vault held queue catalog credentials")
)

// VaultAuthMethod describes how the reference expects the resolver to
// authenticate, only token auth is in use across the environments today
type VaultAuthMethod struct {
	Method string `json:"method"`
	Token  string `json:"token"`
}

// VaultReference names a Vault server and the path of the secret holding
// the AWS key material
type VaultReference struct {
	Endpoint string           `json:"server"`
	Auth     *VaultAuthMethod `json:"auth,omitempty"`
	Secret   string           `json:"path"`
}

// VaultReferenceRoot is the envelope form used when the reference is
// embedded inside larger configuration documents
type VaultReferenceRoot struct {
	Ref *VaultReference `json:"vault"`
}

// ParseReference unpacks an enveloped reference from a JSON document
//
func ParseReference(data []byte) (ref *VaultReference, err kv.Error) {
	root := &VaultReferenceRoot{}
	if errGo := json.Unmarshal(data, root); errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	if root.Ref == nil {
		return nil, kv.NewError("vault reference missing from document").With("stack", stack.Trace().TrimRuntime())
	}
	return root.Ref, nil
}

// Resolve retrieves the AWS key material the reference points at.  The
// secret is expected to carry access_key, secret_access_key, and region
// values
//
func (vr *VaultReference) Resolve(ctx context.Context) (key string, secret string, region string, err kv.Error) {
	config := vault.DefaultConfig()
	config.Address = vr.Endpoint

	defer func() {
		if err != nil {
			err = err.With("server", vr.Endpoint).With("path", vr.Secret)
		}
	}()

	client, errGo := vault.NewClient(config)
	if errGo != nil {
		return "", "", "", kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	token := *vaultToken
	if vr.Auth != nil && len(vr.Auth.Token) != 0 {
		token = vr.Auth.Token
	}
	if len(token) == 0 {
		return "", "", "", kv.NewError("vault token is not specified").With("stack", stack.Trace().TrimRuntime())
	}
	client.SetToken(token)

	data, errGo := client.KVv2("secret").Get(ctx, vr.Secret)
	if errGo != nil {
		return "", "", "", kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}

	credData := data.Data
	if credData == nil {
		return "", "", "", kv.NewError("secret data not found").With("stack", stack.Trace().TrimRuntime())
	}

	if key, err = getStrValue(credData, "access_key"); err != nil {
		return "", "", "", err
	}
	if secret, err = getStrValue(credData, "secret_access_key"); err != nil {
		return "", "", "", err
	}
	if region, err = getStrValue(credData, "region"); err != nil {
		return "", "", "", err
	}
	return key, secret, region, nil
}

// Clone returns an independent copy of the enveloped reference
func (vr *VaultReferenceRoot) Clone() *VaultReferenceRoot {
	if vr.Ref == nil {
		return &VaultReferenceRoot{}
	}
	return &VaultReferenceRoot{
		Ref: vr.Ref.Clone(),
	}
}

// Clone returns an independent copy of the reference
func (vr *VaultReference) Clone() *VaultReference {
	cpy := &VaultReference{
		Endpoint: vr.Endpoint[:],
		Secret:   vr.Secret[:],
	}
	if vr.Auth != nil {
		cpy.Auth = &VaultAuthMethod{
			Method: vr.Auth.Method[:],
			Token:  vr.Auth.Token[:],
		}
	}
	return cpy
}

func getStrValue(data map[string]interface{}, key string) (result string, err kv.Error) {
	x, ok := data[key]
	if !ok || x == nil {
		return "", kv.NewError("data field is not found").With("key", key)
	}
	result, ok = x.(string)
	if !ok {
		return "", kv.NewError("string value expected").With("key", key)
	}
	return result, nil
}
