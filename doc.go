// Package claimpool implements concurrent claiming of uniquely-valued
// resources (such as IPv4 addresses) from named pools backed by PostgreSQL.
// Multiple processes can claim from the same pool at high throughput without
// ever receiving the same value twice.
//
// Coordination uses optimistic concurrency control instead of row locks or
// serializable transactions: every pool row carries a version counter that a
// successful claim advances exactly once via a conditional update, and a
// uniqueness constraint on resource values acts as an independent safety net.
// Claims against different pools touch disjoint row sets, so they never
// contend with each other.
//
// Setup:
//
// Before using claimpool, initialize the required tables once at application
// startup:
//
//	dbPool, err := pgxpool.New(ctx, databaseURL)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dbPool.Close()
//
//	manager, err := claimpool.Setup(ctx, dbPool)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer manager.Close()
//
// Basic usage:
//
//	pool, err := manager.GetOrCreate(ctx, claimpool.Config{
//		ID:     "tenant-a",
//		Prefix: netip.MustParsePrefix("10.0.0.0/8"),
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Claim three fresh addresses.
//	resources, err := pool.Claim(ctx, 3)
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, r := range resources {
//		fmt.Printf("claimed %s\n", r.Value)
//	}
//
// A claim either persists and returns the full requested count or fails with
// a typed error and persists nothing. See the Err* sentinel values for the
// failure taxonomy.
package claimpool
