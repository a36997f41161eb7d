package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	grpcsvc "github.com/vladislavdragonenkov/storefront/internal/service/grpc"
)

const idempotencyKeyHeader = "idempotency-key"

type dialFunc func(addr string) (*grpc.ClientConn, error)

func dialGRPC(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

// callFunc выполняет один вызов сервиса от имени пользователя.
type callFunc func(ctx context.Context, client *grpcsvc.CheckoutServiceClient) (*structpb.Struct, error)

func (o *globalOptions) invoke(cmd *cobra.Command, dial dialFunc, extra metadata.MD, call callFunc) error {
	token, err := o.bearerToken()
	if err != nil {
		return err
	}

	conn, err := dial(o.grpcAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", o.grpcAddr, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	md := metadata.Join(metadata.Pairs("authorization", "Bearer "+token), extra)
	ctx = metadata.NewOutgoingContext(ctx, md)

	result, err := call(ctx, grpcsvc.NewCheckoutServiceClient(conn))
	if err != nil {
		return err
	}
	return printStruct(cmd.OutOrStdout(), result)
}

func printStruct(w io.Writer, value *structpb.Struct) error {
	raw, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	_, err = fmt.Fprintln(w, string(raw))
	return err
}

func newSessionCommand(opts *globalOptions, dial dialFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Checkout session operations",
	}

	var idempotencyKey string
	create := &cobra.Command{
		Use:   "create",
		Short: "Start a checkout session for the current cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var extra metadata.MD
			if key := strings.TrimSpace(idempotencyKey); key != "" {
				extra = metadata.Pairs(idempotencyKeyHeader, key)
			}
			return opts.invoke(cmd, dial, extra, func(ctx context.Context, client *grpcsvc.CheckoutServiceClient) (*structpb.Struct, error) {
				return client.CreateCheckoutSession(ctx)
			})
		},
	}
	create.Flags().StringVar(&idempotencyKey, "idempotency-key", "", "replay-safe request key")

	statusCmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Reconcile a session with the payment processor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID, err := requiredArg(args[0], "session id")
			if err != nil {
				return err
			}
			return opts.invoke(cmd, dial, nil, func(ctx context.Context, client *grpcsvc.CheckoutServiceClient) (*structpb.Struct, error) {
				return client.GetSettlementStatus(ctx, sessionID)
			})
		},
	}

	cmd.AddCommand(create, statusCmd)
	return cmd
}

func newOrdersCommand(opts *globalOptions, dial dialFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Order history",
	}

	var limit int32
	list := &cobra.Command{
		Use:   "list",
		Short: "List the user's orders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.invoke(cmd, dial, nil, func(ctx context.Context, client *grpcsvc.CheckoutServiceClient) (*structpb.Struct, error) {
				return client.ListOrders(ctx, limit)
			})
		},
	}
	list.Flags().Int32Var(&limit, "limit", 20, "maximum number of orders")

	get := &cobra.Command{
		Use:   "get <order-id>",
		Short: "Show an order with its timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := requiredArg(args[0], "order id")
			if err != nil {
				return err
			}
			return opts.invoke(cmd, dial, nil, func(ctx context.Context, client *grpcsvc.CheckoutServiceClient) (*structpb.Struct, error) {
				return client.GetOrder(ctx, orderID)
			})
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}

func requiredArg(raw, name string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", errors.New(name + " is required")
	}
	return value, nil
}
