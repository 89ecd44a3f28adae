// seckillbench drives the admission path directly against Redis with many
// concurrent distinct users and checks that exactly the initial stock is
// admitted, never more.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/yunqi-lab/nearbuy/internal/adapter/storage"
	"github.com/yunqi-lab/nearbuy/internal/idgen"
	"github.com/yunqi-lab/nearbuy/internal/port"
)

func main() {
	var (
		redisAddr = flag.String("redis", "localhost:6379", "redis address")
		voucherID = flag.Uint64("voucher", 900001, "voucher id to hammer")
		stock     = flag.Int64("stock", 20, "initial stock")
		requests  = flag.Int("requests", 50, "concurrent distinct users")
	)
	flag.Parse()

	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{Addr: *redisAddr, PoolSize: 100})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer rdb.Close()

	// Reset campaign state from any previous run.
	voucher := strconv.FormatUint(*voucherID, 10)
	rdb.Del(ctx, "seckill:stock:"+voucher, "seckill:order:"+voucher)

	adapter := storage.NewRedisAdapter(rdb)
	if err := adapter.InitCampaignStock(ctx, *voucherID, *stock); err != nil {
		log.Fatalf("init stock: %v", err)
	}
	ids := idgen.NewWorker(rdb)

	var accepted, outOfStock, failed atomic.Int64

	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < *requests; i++ {
		userID := uint64(i + 1)
		g.Go(func() error {
			orderID, err := ids.NextID(ctx, "order")
			if err != nil {
				failed.Add(1)
				return nil
			}
			code, err := adapter.ReserveVoucher(ctx, *voucherID, userID, orderID, time.Now())
			switch {
			case err != nil:
				failed.Add(1)
			case code == port.AdmissionAccepted:
				accepted.Add(1)
			case code == port.AdmissionOutOfStock:
				outOfStock.Add(1)
			}
			return nil
		})
	}
	g.Wait()
	elapsed := time.Since(start)

	fmt.Println("========== ADMISSION BENCH ==========")
	fmt.Printf("Initial Stock:  %d\n", *stock)
	fmt.Printf("Requests:       %d\n", *requests)
	fmt.Printf("Accepted:       %d\n", accepted.Load())
	fmt.Printf("Out Of Stock:   %d\n", outOfStock.Load())
	fmt.Printf("Errors:         %d\n", failed.Load())
	fmt.Printf("Duration:       %v\n", elapsed)
	fmt.Println("=====================================")

	finalStock, _ := rdb.Get(ctx, "seckill:stock:"+voucher).Int64()
	fmt.Printf("Final Redis Stock: %d\n", finalStock)

	want := min(int64(*requests), *stock)
	if accepted.Load() == want && finalStock == *stock-want {
		fmt.Println("PASS: admitted exactly the available stock")
	} else {
		fmt.Printf("FAIL: expected %d accepted, got %d (stock left %d)\n",
			want, accepted.Load(), finalStock)
	}
}
