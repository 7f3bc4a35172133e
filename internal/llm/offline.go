package llm

import "context"

type offlineClient struct{}

// Offline returns a Client whose Generate always fails with ErrNoAPIKey.
// Deployments without a configured key wire this in so the pipeline runs
// on canned section data instead of refusing to start.
func Offline() Client {
	return offlineClient{}
}

func (offlineClient) Generate(context.Context, GenerateRequest) (*GenerateResponse, error) {
	return nil, ErrNoAPIKey
}
