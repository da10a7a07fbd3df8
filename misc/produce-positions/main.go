package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"route-tracking/internal/transport/kafka"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	kafkago "github.com/segmentio/kafka-go"
)

// Replays a GeoJSON LineString as mover positions on the ingestion topic.
func main() {
	if len(os.Args) < 3 {
		log.Fatal("Usage: go run ./misc/produce-positions <route-id> <linestring.geojson>")
	}
	routeID, path := os.Args[1], os.Args[2]

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read %s: %v", path, err)
	}
	line, err := readLineString(data)
	if err != nil {
		log.Fatalf("Failed to parse %s: %v", path, err)
	}

	brokers := kafka.ParseBrokers(os.Getenv("KAFKA_BROKERS"))
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "route-positions"
	}

	w := &kafkago.Writer{
		Addr:     kafkago.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafkago.Hash{},
	}
	defer w.Close()

	for _, pt := range line {
		msg, _ := json.Marshal(map[string]any{
			"route_id": routeID,
			"lat":      pt.Lat(),
			"lon":      pt.Lon(),
			"ts":       time.Now().UTC().Format(time.RFC3339),
		})
		// keyed by route so one route's samples stay ordered on one partition
		err := w.WriteMessages(context.Background(), kafkago.Message{Key: []byte(routeID), Value: msg})
		if err != nil {
			log.Fatalf("Failed to write message: %v", err)
		}
		fmt.Printf("Sent message: %s\n", msg)
		time.Sleep(time.Second)
	}
	fmt.Println("Finished sending positions")
}

func readLineString(data []byte) (orb.LineString, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err == nil {
		for _, f := range fc.Features {
			if ls, ok := f.Geometry.(orb.LineString); ok {
				return ls, nil
			}
		}
	}
	f, err := geojson.UnmarshalFeature(data)
	if err != nil {
		return nil, err
	}
	ls, ok := f.Geometry.(orb.LineString)
	if !ok {
		if f.Geometry == nil {
			return nil, fmt.Errorf("feature has no geometry")
		}
		return nil, fmt.Errorf("geometry is %s, want LineString", f.Geometry.GeoJSONType())
	}
	return ls, nil
}
