package pubsub

import (
	"context"

	gpubsub "cloud.google.com/go/pubsub"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

// newClient creates a Pub/Sub client, using an explicit credentials file when set.
func newClient(ctx context.Context, projectID, credsFile string) (*gpubsub.Client, error) {
	var opts []option.ClientOption
	if credsFile != "" {
		log.Debug().Str("projectID", projectID).Str("credsFile", credsFile).Msg("pubsub: using explicit credentials")
		opts = append(opts, option.WithCredentialsFile(credsFile))
	}
	client, err := gpubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		log.Error().Err(err).Str("projectID", projectID).Msg("pubsub: failed to create client")
		return nil, err
	}
	return client, nil
}
