package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ciricc/render-energy-bench/internal/health"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	var (
		addr    = flag.String("addr", "localhost:50051", "status server address of a running experiment")
		service = flag.String("service", health.ExperimentService, "health service to query; empty for overall health")
		watch   = flag.Bool("watch", false, "stream status changes until the server goes away")
		timeout = flag.Duration("timeout", 5*time.Second, "timeout for a single check")
	)
	flag.Parse()

	client, err := grpc.NewClient(*addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("new client: %v", err)
	}
	defer client.Close()

	hc := grpc_health_v1.NewHealthClient(client)
	req := &grpc_health_v1.HealthCheckRequest{Service: *service}

	if *watch {
		stream, err := hc.Watch(context.Background(), req)
		if err != nil {
			log.Fatalf("watch: %v", err)
		}
		for {
			resp, err := stream.Recv()
			if err != nil {
				log.Fatalf("watch: %v", err)
			}
			fmt.Printf("%s %s\n", time.Now().Format(time.RFC3339), resp.GetStatus())
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	resp, err := hc.Check(ctx, req)
	if err != nil {
		log.Fatalf("check: %v", err)
	}
	fmt.Println(resp.GetStatus())
	if resp.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		os.Exit(2)
	}
}
