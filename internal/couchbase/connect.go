package couchbase

import (
	"fmt"
	"time"

	"github.com/couchbase/gocb/v2"
)

type Config struct {
	ConnectionString string        `env:"CONNECTION_STRING" envDefault:"couchbase://localhost"`
	Username         string        `env:"USERNAME" envDefault:"Administrator"`
	Password         string        `env:"PASSWORD" envDefault:"password"`
	BucketName       string        `env:"BUCKET_NAME" envDefault:"rmq"`
	ScopeName        string        `env:"SCOPE_NAME" envDefault:"_default"`
	ReadyTimeout     time.Duration `env:"READY_TIMEOUT" envDefault:"5s"`
}

// Connect opens the cluster and waits for the configured bucket.
func Connect(config Config) (*gocb.Cluster, *gocb.Bucket, error) {
	cluster, err := gocb.Connect(config.ConnectionString, gocb.ClusterOptions{
		Authenticator: gocb.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		},
		TimeoutsConfig: gocb.TimeoutsConfig{
			ConnectTimeout: 10 * time.Second,
			KVTimeout:      5 * time.Second,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to cluster: %w", err)
	}

	bucket := cluster.Bucket(config.BucketName)

	if err := bucket.WaitUntilReady(config.ReadyTimeout, nil); err != nil {
		_ = cluster.Close(nil)
		return nil, nil, fmt.Errorf("bucket %s not ready: %w", config.BucketName, err)
	}

	return cluster, bucket, nil
}
