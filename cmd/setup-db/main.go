package main

import (
	"context"
	"flag"
	"log"
	"net/url"
	"os"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	collectionsFlag := flag.String("collections", "logs", "comma-separated list of collections to bootstrap")
	ttlDays := flag.Int("ttl-days", 0, "if > 0, expire documents this many days after their timestamp")
	flag.Parse()

	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017/logcore"
	}

	log.Println("Starting MongoDB setup...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := setup(ctx, uri, strings.Split(*collectionsFlag, ","), *ttlDays); err != nil {
		log.Fatalf("MongoDB setup failed: %v", err)
	}

	log.Println("Database setup completed successfully.")
}

func setup(ctx context.Context, uri string, collections []string, ttlDays int) error {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return err
	}
	defer func() { _ = client.Disconnect(context.Background()) }()

	if err := client.Ping(ctx, nil); err != nil {
		return err
	}

	dbName := databaseNameFromURI(uri)
	db := client.Database(dbName)
	log.Printf("Connected to MongoDB database %q for setup\n", dbName)

	for _, name := range collections {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if err := bootstrapCollection(ctx, db, name, ttlDays); err != nil {
			return err
		}
		dlq := name + "_dlq"
		if err := bootstrapCollection(ctx, db, dlq, 0); err != nil {
			return err
		}
	}

	return nil
}

// bootstrapCollection creates the collection if absent and ensures a
// timestamp index exists, optionally as a TTL index. ttlDays <= 0 creates
// a plain ascending index for range/sort queries without expiry.
func bootstrapCollection(ctx context.Context, db *mongo.Database, name string, ttlDays int) error {
	log.Printf("Ensuring collection %q exists...", name)
	if err := db.CreateCollection(ctx, name); err != nil {
		if !isNamespaceExists(err) {
			return err
		}
	}

	indexOpts := options.Index()
	if ttlDays > 0 {
		indexOpts.SetExpireAfterSeconds(int32(ttlDays * 24 * 60 * 60))
	}

	field := "timestamp"
	if strings.HasSuffix(name, "_dlq") {
		field = "failedAt"
	}

	_, err := db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: field, Value: 1}},
		Options: indexOpts,
	})
	return err
}

func isNamespaceExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NamespaceExists")
}

func databaseNameFromURI(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return "logcore"
	}
	name := strings.TrimPrefix(u.Path, "/")
	if name == "" {
		return "logcore"
	}
	return name
}
