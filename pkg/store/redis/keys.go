package redis

// Key layout, per channel:
//
//	{prefix}channels                  set of channel names
//	{prefix}{channel}:task:{id}       msgpack-encoded task body
//	{prefix}{channel}:score           hash id -> claim score
//	{prefix}{channel}:pending         zset of ready ids by claim score
//	{prefix}{channel}:delayed         zset of backed-off ids by NotBefore (ms)
//	{prefix}{channel}:inflight        set of claimed ids
//	{prefix}{channel}:dead            zset of dead-lettered ids by DeadAt (ms)

const defaultPrefix = "eventship:"

type keys struct {
	prefix string
}

func (k keys) channels() string               { return k.prefix + "channels" }
func (k keys) task(channel, id string) string { return k.prefix + channel + ":task:" + id }
func (k keys) score(channel string) string    { return k.prefix + channel + ":score" }
func (k keys) pending(channel string) string  { return k.prefix + channel + ":pending" }
func (k keys) delayed(channel string) string  { return k.prefix + channel + ":delayed" }
func (k keys) inflight(channel string) string { return k.prefix + channel + ":inflight" }
func (k keys) dead(channel string) string     { return k.prefix + channel + ":dead" }
