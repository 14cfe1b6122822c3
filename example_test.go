package redistack_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/fschwehn/redistack/redis"
	"github.com/fschwehn/redistack/redisclient"
	"github.com/fschwehn/redistack/redisconn"
)

func Example_usage() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := redisclient.Connect(ctx, "127.0.0.1:6379", redisconn.Opts{})
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	if err := client.Set(ctx, "greeting", "hello"); err != nil {
		log.Fatal(err)
	}
	val, ok, err := client.Get(ctx, "greeting")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(ok, string(val))

	id, err := client.XAdd(ctx, "events", "", map[string]string{"kind": "signup"})
	if err != nil {
		log.Fatal(err)
	}
	res, err := client.XRead(ctx, 10, redis.StreamPos{Key: "events", ID: "0"})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(id, len(res["events"]))

	_, err = client.Subscribe(func(channel string, payload []byte) {
		fmt.Printf("%s: %s\n", channel, payload)
	}, "notifications")
	if err != nil {
		log.Fatal(err)
	}
}

func Example_raw() {
	ctx := context.Background()
	conn, err := redisconn.Connect(ctx, "127.0.0.1:6379", redisconn.Opts{})
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	sync := redis.SyncCtx{S: conn}
	res := sync.Do(ctx, "INCR", "counter")
	if err := redis.AsError(res); err != nil {
		log.Fatal(err)
	}
	v, _ := redis.AsValue(res)
	n, _ := redis.ToInt64(v)
	fmt.Println(n)
}
