package bancorv2

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"poolwatch/internal/model"
)

// Decoded event names.
const (
	EventTokenRateUpdate = "TokenRateUpdate"
	EventConversion      = "Conversion"
)

// Decoder turns raw Bancor V2 converter logs into generic event records.
type Decoder struct {
	converterABI abi.ABI
	topicToName  map[common.Hash]string
}

// NewDecoder builds a decoder for TokenRateUpdate and Conversion logs.
func NewDecoder() (*Decoder, error) {
	converterABI, err := ConverterABI()
	if err != nil {
		return nil, fmt.Errorf("parse converter abi: %w", err)
	}

	return &Decoder{
		converterABI: converterABI,
		topicToName: map[common.Hash]string{
			converterABI.Events[EventTokenRateUpdate].ID: EventTokenRateUpdate,
			converterABI.Events[EventConversion].ID:      EventConversion,
		},
	}, nil
}

// Topic0 returns the topic0 hashes this decoder understands, for log
// subscription filters.
func (d *Decoder) Topic0() []common.Hash {
	topics := make([]common.Hash, 0, len(d.topicToName))
	for topic := range d.topicToName {
		topics = append(topics, topic)
	}
	return topics
}

// CanDecode checks if the topic0 is supported.
func (d *Decoder) CanDecode(topic0 common.Hash) bool {
	_, ok := d.topicToName[topic0]
	return ok
}

// Decode converts a log into an event record with named arguments.
func (d *Decoder) Decode(log types.Log) (model.Event, error) {
	if len(log.Topics) == 0 {
		return model.Event{}, fmt.Errorf("missing topics")
	}
	name, ok := d.topicToName[log.Topics[0]]
	if !ok {
		return model.Event{}, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}

	event := d.converterABI.Events[name]
	args := make(map[string]any)

	indexed := indexedArguments(event.Inputs)
	if len(log.Topics) != len(indexed)+1 {
		return model.Event{}, fmt.Errorf("event %s: expected %d topics, got %d", name, len(indexed)+1, len(log.Topics))
	}
	if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
		return model.Event{}, fmt.Errorf("event %s: parse topics: %w", name, err)
	}
	if err := event.Inputs.NonIndexed().UnpackIntoMap(args, log.Data); err != nil {
		return model.Event{}, fmt.Errorf("event %s: unpack data: %w", name, err)
	}

	return model.Event{
		Type:        name,
		Address:     log.Address,
		BlockNumber: log.BlockNumber,
		TxHash:      strings.ToLower(log.TxHash.Hex()),
		LogIndex:    uint64(log.Index),
		Args:        args,
	}, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
