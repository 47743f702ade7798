package catnip

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/catnipstack/catnip/internal/constants"
	"github.com/catnipstack/catnip/internal/device"
)

func newTestLibOS(t *testing.T, ip [4]byte, mac [6]byte) *LibOS {
	t.Helper()
	_, subnet, err := net.ParseCIDR("192.0.2.0/24")
	require.NoError(t, err)
	l, err := New(DefaultConfig(ip, mac, subnet), device.NewLoopbackDevice(mac))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestBindTwiceSamePortMapsToInUse(t *testing.T) {
	l := newTestLibOS(t, testIPA, testMACA)

	qd1 := l.SocketUDP()
	require.NoError(t, l.Bind(qd1, 9000))

	qd2 := l.SocketUDP()
	err := l.Bind(qd2, 9000)
	require.Error(t, err)
	require.True(t, IsCode(err, CodeInUse))
}

func TestBindUnknownDescriptorMapsToBadArg(t *testing.T) {
	l := newTestLibOS(t, testIPA, testMACA)

	err := l.Bind(QueueDescriptor(9999), 9000)
	require.Error(t, err)
	require.True(t, IsCode(err, CodeBadArg))
}

func TestPushOnUnboundTCPQueueMapsToBadState(t *testing.T) {
	l := newTestLibOS(t, testIPA, testMACA)

	qd := l.SocketTCP()
	_, err := l.Push(qd, []byte("hi"))
	require.Error(t, err)
	require.True(t, IsCode(err, CodeBadState))
}

func TestGetSockNameReportsEphemeralBind(t *testing.T) {
	l := newTestLibOS(t, testIPA, testMACA)

	qd := l.SocketUDP()
	require.NoError(t, l.Bind(qd, 0))

	port, err := l.GetSockName(qd)
	require.NoError(t, err)
	require.GreaterOrEqual(t, port, uint16(constants.DefaultEphemeralPortLow))
}

func TestUDPDatagramRoundTripsBetweenTwoInstances(t *testing.T) {
	a, b, err := NewTestPair(testIPA, testIPB, testMACA, testMACB, testSubnet(t))
	require.NoError(t, err)
	defer a.Close()
	defer b.Close()

	serverQD := b.SocketUDP()
	require.NoError(t, b.Bind(serverQD, 9100))
	popTok, err := b.Pop(serverQD)
	require.NoError(t, err)

	clientQD := a.SocketUDP()
	require.NoError(t, a.Bind(clientQD, 0))
	pushTok, err := a.PushTo(clientQD, testIPB, 9100, []byte("ping"))
	require.NoError(t, err)

	var comp Completion
	var pushDone, done bool
	for i := 0; i < 20 && (!pushDone || !done); i++ {
		Pump(a, b, 1)
		if !pushDone {
			_, pushDone = a.TryWait(pushTok)
		}
		if !done {
			comp, done = b.TryWait(popTok)
		}
	}
	require.True(t, pushDone)
	require.True(t, done)
	require.Equal(t, []byte("ping"), comp.Data)
}
