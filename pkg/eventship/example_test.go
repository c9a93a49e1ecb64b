package eventship_test

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bft-labs/eventship/pkg/event"
	"github.com/bft-labs/eventship/pkg/eventship"
	"github.com/bft-labs/eventship/pkg/settings"
)

// ExampleInstall demonstrates how to embed eventship in your application.
func ExampleInstall() {
	cfg := eventship.Config{
		WriteKey: "your-write-key",
		APIHost:  "https://api.example.com",
	}

	ctx := context.Background()
	h, err := eventship.Install(ctx, cfg, eventship.WithHTTPClient(&okClient{}))
	if err != nil {
		fmt.Printf("failed to install: %v\n", err)
		return
	}
	defer h.Close(context.Background())

	// Calls made before the engine loads are captured and replayed.
	_ = h.Track(ctx, "Signed Up", event.Properties{"plan": "pro"})

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	loaded, err := h.Ready().Wait(waitCtx)
	if err != nil {
		fmt.Printf("engine failed: %v\n", err)
		return
	}
	fmt.Printf("Write key: %s\n", loaded.Identity.WriteKey)

	// Output: Write key: your-write-key
}

// Example_writeKeyFromEnvironment demonstrates resolving the write key from
// loader script references.
func Example_writeKeyFromEnvironment() {
	env := settings.StaticSources{
		"https://cdn.example.com/analytics.js/v1/write_key_abc_123/analytics.min.js",
	}

	h, err := eventship.Install(context.Background(), eventship.Config{},
		eventship.WithEnvironment(env, nil),
		eventship.WithHTTPClient(&okClient{}),
	)
	if err != nil {
		fmt.Printf("failed to install: %v\n", err)
		return
	}
	defer h.Close(context.Background())

	fmt.Println(h.Identity().SettingsURL())

	// Output: https://cdn.write_key_abc_123.com/v1/projects/write_key_abc_123/settings
}

// Example_deliveryFailures demonstrates receiving dead letters.
func Example_deliveryFailures() {
	h, err := eventship.Install(context.Background(), eventship.Config{WriteKey: "key"},
		eventship.WithHTTPClient(&okClient{}),
	)
	if err != nil {
		fmt.Printf("failed to install: %v\n", err)
		return
	}
	defer h.Close(context.Background())

	_ = h.On("delivery_failure", func(args ...any) {
		dl := args[0].(eventship.DeadLetter)
		fmt.Printf("gave up on %s after %d attempts: %v\n", dl.Task.ID, dl.Task.Attempts, dl.Err)
	})
}

// Example_moduleVersions demonstrates version checking.
func Example_moduleVersions() {
	fmt.Printf("eventship version: %s\n", eventship.Version)

	for module, version := range eventship.ModuleVersions() {
		fmt.Printf("%s: %s\n", module, version)
	}
}

// okClient accepts every request.
type okClient struct{}

func (okClient) Do(req *http.Request) (*http.Response, error) {
	return response(http.StatusOK, `{"integrations":{}}`), nil
}
