// Copyright 2021-2022 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package creds

// This file contains the credential bundle used when authenticating the
// queue catalog accessors against AWS.  Key material can originate from
// shared credentials files, from explicit static keys, or from a Vault
// reference.  Static secret material is parked inside a memguard enclave
// and only opened for the moments a session is being constructed.

import (
	"context"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/awnumar/memguard"

	"github.com/andreidenissov-cog/go-service/pkg/aws_gsc"

	"github.com/leaf-ai/queue-advisor/internal/vault"

	"github.com/go-stack/stack"
	"github.com/jjeffery/kv" // MIT License
)

func init() {
	// Wipes enclave backed key material should the process be interrupted
	memguard.CatchInterrupt()
}

// Bundle represents a single source of AWS authentication material along
// with the region the material is bound to.  The zero value is not usable,
// obtain bundles from the New functions in this package.
type Bundle struct {
	Region string

	profile string
	creds   *credentials.Credentials

	access string
	secret *memguard.Enclave
}

// NewFileBundle extracts key material from AWS shared credentials style
// files.  The supplied profile selects the section within the files, an
// empty profile selects "default".
func NewFileBundle(files []string, profile string) (bundle *Bundle, err kv.Error) {
	if len(files) == 0 {
		return nil, kv.NewError("no credentials files were supplied").With("stack", stack.Trace().TrimRuntime())
	}
	if len(profile) == 0 {
		profile = "default"
	}
	cred, err := aws_gsc.AWSExtractCreds(files, profile)
	if err != nil {
		return nil, err.With("profile", profile)
	}
	return &Bundle{
		Region:  cred.Region,
		profile: profile,
		creds:   cred.Creds,
	}, nil
}

// NewStaticBundle wraps explicitly supplied key material.  Both of the key
// components and the region must be present together, partial static
// configurations are rejected rather than silently falling back to the
// ambient credentials chain.
func NewStaticBundle(access string, secret string, region string) (bundle *Bundle, err kv.Error) {
	if len(access) == 0 || len(secret) == 0 {
		return nil, kv.NewError("the access key and the secret key must both be specified").With("stack", stack.Trace().TrimRuntime())
	}
	if len(region) == 0 {
		return nil, kv.NewError("a region must be specified alongside static keys").With("stack", stack.Trace().TrimRuntime())
	}
	return &Bundle{
		Region: region,
		access: access,
		secret: memguard.NewEnclave([]byte(secret)),
	}, nil
}

// NewVaultBundle resolves a Vault reference into a static bundle.  The
// secret material never rests outside of an enclave once retrieved.
func NewVaultBundle(ctx context.Context, ref *vault.VaultReference) (bundle *Bundle, err kv.Error) {
	access, secret, region, err := ref.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	return NewStaticBundle(access, secret, region)
}

// NewEnvBundle defers to the ambient AWS credentials chain, environment
// variables, shared configuration, and instance role providers included.
// The region is optional and overrides anything the chain supplies.
func NewEnvBundle(region string) (bundle *Bundle) {
	return &Bundle{
		Region: region,
	}
}

// NewSession builds an AWS session from the bundle.  Static key material
// is opened from its enclave only for the duration of this call.
func (bundle *Bundle) NewSession() (sess *session.Session, err kv.Error) {
	sessOpts := session.Options{}
	sessOpts.Config.CredentialsChainVerboseErrors = aws.Bool(true)

	if len(bundle.Region) != 0 {
		sessOpts.Config.Region = aws.String(bundle.Region)
	}

	switch {
	case bundle.secret != nil:
		buffer, errGo := bundle.secret.Open()
		if errGo != nil {
			return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
		}
		sessOpts.Config.Credentials = credentials.NewStaticCredentials(bundle.access, buffer.String(), "")
		buffer.Destroy()
	case bundle.creds != nil:
		sessOpts.Config.Credentials = bundle.creds
		sessOpts.Profile = bundle.profile
	default:
		// Nothing explicit was supplied so the SDKs ambient chain is left
		// to consult env vars, shared files, and instance roles
		sessOpts.SharedConfigState = session.SharedConfigEnable
	}

	sess, errGo := session.NewSessionWithOptions(sessOpts)
	if errGo != nil {
		return nil, kv.Wrap(errGo).With("stack", stack.Trace().TrimRuntime())
	}
	return sess, nil
}

// Logable returns key value pairs describing the bundle with all secret
// material withheld
func (bundle *Bundle) Logable() (fields []interface{}) {
	source := "environment"
	switch {
	case bundle.secret != nil:
		source = "static"
	case bundle.creds != nil:
		source = "file"
	}
	return []interface{}{"credsSource", source, "region", bundle.Region}
}

// DefaultCredFiles returns the candidate shared credentials and config
// file locations honoring the conventional environment variable overrides.
// Both files are needed, the region is carried by the config file and the
// key material by the credentials file.
func DefaultCredFiles() (files []string) {
	files = []string{}
	if fn := os.Getenv("AWS_SHARED_CREDENTIALS_FILE"); len(fn) != 0 {
		files = append(files, fn)
	}
	if fn := os.Getenv("AWS_CONFIG_FILE"); len(fn) != 0 {
		files = append(files, fn)
	}
	if len(files) != 0 {
		return files
	}
	home, errGo := os.UserHomeDir()
	if errGo != nil {
		return files
	}
	return []string{filepath.Join(home, ".aws", "credentials"), filepath.Join(home, ".aws", "config")}
}
