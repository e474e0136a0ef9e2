// Package redis connects to Redis with retries and exposes a readiness check.
//
// Redis is optional for the queue. It backs the leader lease in pkg/leader,
// which keeps replicas from polling storage in parallel.
//
//	var cfg redis.Config
//	config.MustLoad(&cfg)
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
package redis
