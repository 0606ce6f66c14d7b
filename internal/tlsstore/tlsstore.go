// Package tlsstore loads the server's TLS material, either from local PEM
// files or from S3-compatible object storage so a fleet can share one
// certificate without shipping files to every host.
package tlsstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"kestrel/internal/conf"
	"kestrel/internal/logger"
)

// Load builds the *tls.Config described by cfg. It returns nil (and no
// error) when TLS is not enabled, so callers can pass the result straight
// to the engine.
func Load(ctx context.Context, cfg conf.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var certPEM, keyPEM, caPEM []byte
	var err error

	if cfg.S3.Enabled {
		certPEM, keyPEM, caPEM, err = fetchFromS3(ctx, cfg.S3)
	} else {
		certPEM, keyPEM, caPEM, err = readFromFiles(cfg)
	}
	if err != nil {
		return nil, err
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse tls key pair: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
	}

	if len(caPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("no certificates found in CA material")
		}
		tlsConfig.ClientCAs = pool
	}

	return tlsConfig, nil
}

func readFromFiles(cfg conf.TLSConfig) (certPEM, keyPEM, caPEM []byte, err error) {
	certPEM, err = os.ReadFile(cfg.CertFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read cert file: %w", err)
	}
	keyPEM, err = os.ReadFile(cfg.KeyFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read key file: %w", err)
	}
	if cfg.CAFile != "" {
		caPEM, err = os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("read ca file: %w", err)
		}
	}
	return certPEM, keyPEM, caPEM, nil
}

func fetchFromS3(ctx context.Context, cfg conf.S3Config) (certPEM, keyPEM, caPEM []byte, err error) {
	client, err := newS3Client(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	certPEM, err = getObject(ctx, client, cfg.Bucket, cfg.CertKey)
	if err != nil {
		return nil, nil, nil, err
	}
	keyPEM, err = getObject(ctx, client, cfg.Bucket, cfg.KeyKey)
	if err != nil {
		return nil, nil, nil, err
	}
	if cfg.CAKey != "" {
		caPEM, err = getObject(ctx, client, cfg.Bucket, cfg.CAKey)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	logger.Info("tls material loaded from object storage",
		"bucket", cfg.Bucket, "cert_key", cfg.CertKey)
	return certPEM, keyPEM, caPEM, nil
}

func newS3Client(ctx context.Context, cfg conf.S3Config) (*s3.Client, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			// Custom endpoints are usually MinIO-style and want path
			// addressing.
			o.UsePathStyle = true
		}
	}), nil
}

func getObject(ctx context.Context, client *s3.Client, bucket, key string) ([]byte, error) {
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil, fmt.Errorf("tls object s3://%s/%s does not exist", bucket, key)
		}
		return nil, fmt.Errorf("fetch s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3://%s/%s: %w", bucket, key, err)
	}
	return data, nil
}
