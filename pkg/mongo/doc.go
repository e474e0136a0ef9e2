// Package mongo connects to MongoDB for the document-backed message store.
//
// Connect applies the pool settings from an env-tagged Config and retries
// until the deployment answers a ping. Healthcheck returns a check for the
// readiness endpoint.
//
//	var cfg mongo.Config
//	config.MustLoad(&cfg)
//
//	db, err := mongo.ConnectDatabase(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	store := mongostorage.New(db.Collection("pending_messages"))
package mongo
