package factory

import (
	"testing"

	"depthbook/internal/exchange"
)

func TestNewAdapter(t *testing.T) {
	for _, name := range GetSupportedExchanges() {
		t.Run(string(name), func(t *testing.T) {
			adapter, err := NewAdapter(name)
			if err != nil {
				t.Fatalf("NewAdapter(%s) failed: %v", name, err)
			}
			if adapter.GetName() != name {
				t.Errorf("Expected adapter %s, got %s", name, adapter.GetName())
			}
			if !ValidateExchangeName(string(name)) {
				t.Errorf("%s should validate", name)
			}
		})
	}

	if _, err := NewAdapter("kraken"); err == nil {
		t.Error("Expected error for unsupported exchange")
	}
	if ValidateExchangeName("kraken") {
		t.Error("kraken should not validate")
	}
}

func TestSnapshotSources(t *testing.T) {
	tests := []struct {
		name exchange.ExchangeName
		rest bool
	}{
		{exchange.Binancef, true},
		{exchange.Binance, true},
		{exchange.Bybitf, false},
		{exchange.Bybit, false},
		{exchange.OKX, false},
		{exchange.Asterdexf, true},
		{exchange.Hyperliquidf, false},
		{exchange.BingX, false},
		{exchange.BingXf, false},
		{exchange.Coinbase, false},
	}

	for _, tt := range tests {
		adapter, err := NewAdapter(tt.name)
		if err != nil {
			t.Fatal(err)
		}
		if got := adapter.SnapshotURL("BTCUSDT", 100) != ""; got != tt.rest {
			t.Errorf("%s: expected REST snapshot=%v", tt.name, tt.rest)
		}
	}
}

func TestPingResponders(t *testing.T) {
	for _, name := range GetSupportedExchanges() {
		adapter, err := NewAdapter(name)
		if err != nil {
			t.Fatal(err)
		}
		_, answers := adapter.(exchange.PingResponder)
		want := name == exchange.BingX || name == exchange.BingXf
		if answers != want {
			t.Errorf("%s: expected PingResponder=%v", name, want)
		}
	}
}
