package engine_test

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/compconf/pkg/engine"
	"github.com/openfroyo/compconf/pkg/parameter"
)

// httpClient is a minimal component with a URL and a credential.
type httpClient struct {
	descriptors []*engine.PropertyDescriptor
}

func newHTTPClient() *httpClient {
	return &httpClient{descriptors: []*engine.PropertyDescriptor{
		{Name: "url", Required: true},
		{Name: "password", Sensitive: true},
	}}
}

func (c *httpClient) PropertyDescriptors() []*engine.PropertyDescriptor { return c.descriptors }

func (c *httpClient) PropertyDescriptor(name string) *engine.PropertyDescriptor {
	for _, d := range c.descriptors {
		if d.Name == name {
			return d
		}
	}
	return nil
}

func (c *httpClient) CustomDescriptor(string) *engine.PropertyDescriptor { return nil }

func (c *httpClient) Validate(context.Context, *engine.ValidationContext) ([]engine.ValidationResult, error) {
	return nil, nil
}

func (c *httpClient) OnPropertyModified(d *engine.PropertyDescriptor, oldValue, newValue *string) {
	if d.Sensitive {
		fmt.Printf("%s changed\n", d.Name)
		return
	}
	fmt.Printf("%s: %v -> %s\n", d.Name, oldValue != nil, *newValue)
}

type group struct {
	params *parameter.Context
}

func (g group) ID() string { return "root" }

func (g group) ParameterContext() parameter.Lookup { return g.params }

// Example_componentNode configures a component through a parameter context,
// validates it asynchronously and propagates a parameter change.
func Example_componentNode() {
	params := parameter.NewContext("ctx", "production", []parameter.Parameter{
		{Name: "host", Value: parameter.StringPtr("api.example.com")},
		{Name: "password", Value: parameter.StringPtr("s3cret"), Sensitive: true},
	})

	scheduler := engine.NewValidationScheduler(2, time.Second, nil, zerolog.Nop())
	scheduler.Start(context.Background())
	defer scheduler.Stop()

	node, err := engine.NewComponentNode(engine.NodeConfig{
		ID:        "http-client",
		Component: newHTTPClient(),
		Group:     group{params: params},
		Trigger:   scheduler,
		Logger:    zerolog.Nop(),
	})
	if err != nil {
		panic(err)
	}
	params.Subscribe(node.OnParametersModified)

	err = node.SetProperties(context.Background(), map[string]*string{
		"url":      parameter.StringPtr("https://#{host}/v1"),
		"password": parameter.StringPtr("#{password}"),
	}, false)
	if err != nil {
		panic(err)
	}

	status, _ := node.ValidationStatus(context.Background(), 5*time.Second)
	fmt.Println(status)

	_, _ = params.Apply(map[string]*parameter.Parameter{
		"host": {Value: parameter.StringPtr("api.example.org")},
	})
	fmt.Println(*node.EffectivePropertyValue("url"))

	// Output:
	// password changed
	// url: false -> https://api.example.com/v1
	// VALID
	// url: true -> https://api.example.org/v1
	// https://api.example.org/v1
}
