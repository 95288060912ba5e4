// Package client calls methods on the signing bridge.
//
//	Call ─► middleware chain ─► discover bridge ─► pick ─► frame ─► socket round trip ─► parse
//
// A Client holds only immutable configuration; concurrent callers each get their
// own connection from the transport.
package client

import (
	"context"
	"fmt"

	"cmbc-pay/codec"
	"cmbc-pay/loadbalance"
	"cmbc-pay/message"
	"cmbc-pay/middleware"
	"cmbc-pay/protocol"
	"cmbc-pay/registry"
	"cmbc-pay/transport"
)

type Options struct {
	Registry    registry.Registry
	Balancer    loadbalance.Balancer // nil means round robin
	Service     string               // registry service name of the bridge
	CodecType   codec.CodecType
	Transport   *transport.SocketTransport
	Middlewares []middleware.Middleware
}

type Client struct {
	registry  registry.Registry // find bridge instances
	balancer  loadbalance.Balancer
	service   string
	codec     codec.Codec
	transport *transport.SocketTransport
	handler   middleware.HandlerFunc
}

func NewClient(opts Options) (*Client, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("client: registry is required")
	}
	if opts.Service == "" {
		return nil, fmt.Errorf("client: bridge service name is required")
	}

	c := &Client{
		registry:  opts.Registry,
		balancer:  opts.Balancer,
		service:   opts.Service,
		codec:     codec.GetCodec(opts.CodecType),
		transport: opts.Transport,
	}
	if c.balancer == nil {
		c.balancer = &loadbalance.RoundRobinBalancer{}
	}
	if c.transport == nil {
		c.transport = transport.New(transport.Options{})
	}
	c.handler = middleware.Chain(opts.Middlewares...)(c.roundTrip)
	return c, nil
}

// Call invokes method ("Type::method") with positional params.
func (c *Client) Call(ctx context.Context, method string, params ...any) (*message.Reply, error) {
	return c.handler(ctx, &message.Call{Method: method, Params: params})
}

// roundTrip is the innermost handler: one connection, one request, one response.
func (c *Client) roundTrip(ctx context.Context, call *message.Call) (*message.Reply, error) {
	framed, err := protocol.Frame(c.codec, call.Args())
	if err != nil {
		return nil, err
	}

	instances, err := c.registry.Discover(c.service)
	if err != nil {
		return nil, fmt.Errorf("client: discover %s: %w", c.service, err)
	}
	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return nil, fmt.Errorf("client: pick %s: %w", c.service, err)
	}

	raw, err := c.transport.Call(ctx, instance.Addr, framed)
	if err != nil {
		return nil, err
	}
	return protocol.ParseResponse(raw, c.codec)
}
