package sensors

import (
	"io"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/relabs-tech/balance_screen/internal/motion"
)

type recorder struct {
	mu     sync.Mutex
	accel  []AccelerationEvent
	orient []OrientationEvent
	rate   []RotationRateEvent
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnAcceleration: func(e AccelerationEvent) { r.mu.Lock(); r.accel = append(r.accel, e); r.mu.Unlock() },
		OnOrientation:  func(e OrientationEvent) { r.mu.Lock(); r.orient = append(r.orient, e); r.mu.Unlock() },
		OnRotationRate: func(e RotationRateEvent) { r.mu.Lock(); r.rate = append(r.rate, e); r.mu.Unlock() },
	}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestMQTTDispatch(t *testing.T) {
	src := NewMQTTSource("tcp://unused:1883", "test", MQTTTopics{
		Acceleration: "a", Orientation: "o", RotationRate: "r",
	})
	var rec recorder
	h := rec.handlers()

	src.dispatch(h, "a", []byte(`{"t":42,"x":0.1,"y":0.2,"z":0.3}`))
	src.dispatch(h, "o", []byte(`{"t":43,"alpha":180,"beta":1.5,"gamma":null}`))
	src.dispatch(h, "r", []byte(`{"t":44,"alpha":3,"beta":1,"gamma":2}`))
	src.dispatch(h, "a", []byte(`not json`))
	src.dispatch(h, "elsewhere", []byte(`{}`))

	if len(rec.accel) != 1 || rec.accel[0].TimestampMillis != 42 || rec.accel[0].Z != 0.3 {
		t.Fatalf("unexpected acceleration events %+v", rec.accel)
	}
	o := rec.orient[0]
	if o.Alpha == nil || *o.Alpha != 180 || o.Gamma != nil {
		t.Fatalf("null angle must stay absent: %+v", o)
	}
	r := rec.rate[0]
	if r.X != 1 || r.Y != 2 || r.Z != 3 {
		t.Fatalf("rotation rate axes mapped wrongly: %+v", r)
	}
}

func TestMQTTMissingTimestampIsStamped(t *testing.T) {
	e, err := decodeAcceleration([]byte(`{"x":1}`))
	if err != nil {
		t.Fatal(err)
	}
	if e.TimestampMillis == 0 {
		t.Fatal("expected receive-time stamp")
	}
}

func TestMQTTTypes(t *testing.T) {
	if n := len(NewMQTTSource("b", "c", MQTTTopics{Acceleration: "a", Orientation: "o"}).Types()); n != 2 {
		t.Fatalf("expected 2 types without rotation topic, got %d", n)
	}
}

func TestNMEAHandle(t *testing.T) {
	var st nmeaState
	var rec recorder
	h := rec.handlers()

	st.handle("$IIXDR,A,1.5,D,PITCH,A,-0.5,D,ROLL*39", 1, h)
	st.handle("$HEHDT,90.0,T*16", 2, h)
	st.handle("$IIXDR,G,0.1,G,ACCX,G,0.0,G,ACCY,G,0.0,G,ACCZ*7B", 3, h)
	st.handle("$HEHDT,90.0,T*00", 4, h) // bad checksum
	st.handle("$GPRMC,bogus*0B", 5, h)

	if len(rec.orient) != 2 {
		t.Fatalf("expected 2 orientation events, got %d", len(rec.orient))
	}
	first := rec.orient[0]
	if first.Alpha != nil || *first.Beta != 1.5 || *first.Gamma != -0.5 {
		t.Fatalf("unexpected first orientation %+v", first)
	}
	second := rec.orient[1]
	if second.Alpha == nil || *second.Alpha != 90 || *second.Beta != 1.5 {
		t.Fatalf("heading should merge with tilt: %+v", second)
	}
	if len(rec.accel) != 1 || !near(rec.accel[0].X, 0.1*motion.StandardGravity) {
		t.Fatalf("expected g converted to m/s², got %+v", rec.accel)
	}
}

func TestNMEAReaderSource(t *testing.T) {
	input := strings.Join([]string{
		"garbage",
		"$IIXDR,A,1.5,D,PITCH,A,-0.5,D,ROLL*39",
		"$IIXDR,G,0.1,G,ACCX,G,0.0,G,ACCY,G,0.0,G,ACCZ*7B",
		"",
	}, "\r\n")
	src := NewNMEAReaderSource("test", func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(input)), nil
	})

	var rec recorder
	stop, err := src.Start(rec.handlers())
	if err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec.mu.Lock()
		done := len(rec.accel) == 1 && len(rec.orient) == 1
		rec.mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	stop()
	stop()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.accel) != 1 || len(rec.orient) != 1 {
		t.Fatalf("expected one of each event, got accel=%d orient=%d", len(rec.accel), len(rec.orient))
	}
}

type fakeIMU struct {
	ax, ay, az, gx, gy, gz int16
	err                    error
}

func (f fakeIMU) GetAccelerationX() (int16, error) { return f.ax, f.err }
func (f fakeIMU) GetAccelerationY() (int16, error) { return f.ay, nil }
func (f fakeIMU) GetAccelerationZ() (int16, error) { return f.az, nil }
func (f fakeIMU) GetRotationX() (int16, error)     { return f.gx, nil }
func (f fakeIMU) GetRotationY() (int16, error)     { return f.gy, nil }
func (f fakeIMU) GetRotationZ() (int16, error)     { return f.gz, nil }

func TestIMUEmitRemovesGravity(t *testing.T) {
	raw, err := readRaw(fakeIMU{az: 16384, gx: 131, gz: -262})
	if err != nil {
		t.Fatal(err)
	}
	var rec recorder
	f := newGravityFilter(20 * time.Millisecond)
	emitIMU(rec.handlers(), f, raw, 7)

	a := rec.accel[0]
	if math.Abs(a.X) > 1e-9 || math.Abs(a.Z) > 1e-9 {
		t.Fatalf("gravity should be removed at rest, got %+v", a)
	}
	r := rec.rate[0]
	if !near(r.X, 1) || !near(r.Z, -2) {
		t.Fatalf("unexpected gyro scaling %+v", r)
	}
	o := rec.orient[0]
	if o.Alpha != nil || o.Beta == nil || math.Abs(*o.Beta) > 1e-9 {
		t.Fatalf("flat device should be level without heading: %+v", o)
	}
}

func TestIMUReadError(t *testing.T) {
	if _, err := readRaw(fakeIMU{err: io.ErrUnexpectedEOF}); err == nil {
		t.Fatal("expected read error")
	}
}

func TestIMUStartFailure(t *testing.T) {
	src := NewIMUSource("/dev/none", "8", 0)
	src.open = func() (rawReader, error) { return nil, io.ErrClosedPipe }
	if _, err := NewAdapter(src, 0).Subscribe(Handlers{}); err == nil {
		t.Fatal("expected subscribe failure")
	}
}
