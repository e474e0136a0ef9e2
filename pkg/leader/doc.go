// Package leader provides a Redis lease that lets one replica at a time run
// the background dispatch loop.
//
// The lease only saves redundant polling. Delivery never depends on it, since
// each message is claimed in storage before its transport runs.
//
//	lease, err := leader.New(redisClient, leader.WithTTL(3*time.Minute))
//	if err != nil {
//	    return err
//	}
//	driver, err := mailqueue.NewDriver(repo, dispatcher, mailqueue.WithLeaderCheck(lease.IsLeader))
package leader
