package drivers

import (
	"math/rand"
	"sync"
	"time"

	"market-observer/src/interfaces"
	"market-observer/src/models"
)

// -----------------------------------------------------------------------------
// SimulatorDriver is a MarketDataDriver that never touches a real broker
// front. The upstream wire protocol is explicitly out of scope (spec §1:
// "assumed as a callback-style SPI"); this fills that seam with a driver
// that fabricates a believable front-connected/login/tick sequence so the
// rest of the server is fully exercisable end to end.
// -----------------------------------------------------------------------------

type SimulatorDriver struct {
	events interfaces.DriverEvents

	mu          sync.Mutex
	subscribed  map[string]*simState
	stop        chan struct{}
	tickStarted bool
}

type simState struct {
	lastPrice float64
}

// -----------------------------------------------------------------------------

func NewSimulatorDriver(events interfaces.DriverEvents) *SimulatorDriver {
	return &SimulatorDriver{
		events:     events,
		subscribed: make(map[string]*simState),
	}
}

// -----------------------------------------------------------------------------

func (d *SimulatorDriver) Connect(frontAddr string) error {
	go func() {
		time.Sleep(50 * time.Millisecond)
		d.events.OnFrontConnected()
	}()
	return nil
}

// -----------------------------------------------------------------------------

func (d *SimulatorDriver) Login(brokerID string) error {
	go func() {
		time.Sleep(20 * time.Millisecond)
		d.events.OnRspUserLogin(true)
		d.startTicking()
	}()
	return nil
}

// -----------------------------------------------------------------------------

func (d *SimulatorDriver) Subscribe(instrumentID string) error {
	d.mu.Lock()
	d.subscribed[instrumentID] = &simState{lastPrice: 1000 + rand.Float64()*500}
	d.mu.Unlock()

	go d.events.OnRspSubscribe(instrumentID, true)
	return nil
}

// -----------------------------------------------------------------------------

func (d *SimulatorDriver) Unsubscribe(instrumentID string) error {
	d.mu.Lock()
	delete(d.subscribed, instrumentID)
	d.mu.Unlock()

	go d.events.OnRspUnsubscribe(instrumentID, true)
	return nil
}

// -----------------------------------------------------------------------------

func (d *SimulatorDriver) Close() error {
	d.mu.Lock()
	if d.stop != nil {
		close(d.stop)
		d.stop = nil
	}
	d.tickStarted = false
	d.subscribed = make(map[string]*simState)
	d.mu.Unlock()
	return nil
}

// -----------------------------------------------------------------------------

func (d *SimulatorDriver) startTicking() {
	d.mu.Lock()
	if d.tickStarted {
		d.mu.Unlock()
		return
	}
	d.tickStarted = true
	d.stop = make(chan struct{})
	stop := d.stop
	d.mu.Unlock()

	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				d.emitTicks()
			}
		}
	}()
}

// -----------------------------------------------------------------------------

func (d *SimulatorDriver) emitTicks() {
	d.mu.Lock()
	instruments := make([]string, 0, len(d.subscribed))
	for inst := range d.subscribed {
		instruments = append(instruments, inst)
	}
	d.mu.Unlock()

	for _, inst := range instruments {
		d.mu.Lock()
		state, ok := d.subscribed[inst]
		if !ok {
			d.mu.Unlock()
			continue
		}
		state.lastPrice += (rand.Float64() - 0.5) * 2
		if state.lastPrice < 1 {
			state.lastPrice = 1
		}
		price := state.lastPrice
		d.mu.Unlock()

		now := time.Now()
		tick := &models.DepthTick{
			InstrumentID:    inst,
			TradingDay:      now.Format("20060102"),
			UpdateTime:      now.Format("15:04:05"),
			UpdateMillisec:  now.Nanosecond() / 1e6,
			LastPrice:       price,
			HighestPrice:    price + 5,
			LowestPrice:     price - 5,
			OpenPrice:       price - 1,
			ClosePrice:      0,
			AveragePrice:    price,
			Volume:          int64(rand.Intn(10000)),
			Turnover:        price * 1000,
			OpenInterest:    float64(rand.Intn(50000)),
			SettlementPrice: 0,
			UpperLimitPrice: price * 1.1,
			LowerLimitPrice: price * 0.9,
			AskPrice:        [5]float64{price + 1, price + 2, price + 3, price + 4, price + 5},
			AskVolume:       [5]int64{10, 20, 30, 40, 50},
			BidPrice:        [5]float64{price - 1, price - 2, price - 3, price - 4, price - 5},
			BidVolume:       [5]int64{10, 20, 30, 40, 50},
		}
		d.events.OnRtnDepthMarketData(tick)
	}
}
